package transform

import "strings"

// languageCodes is the closed ISO 639-2/B set accepted in language[].
var languageCodes = setOf(`
aar abk ace ach ada ady afa afh afr ain aka akk alb ale alg alt amh ang anp apa ara arc arg
arm arn arp art arw asm ast ath aus ava ave awa aym aze bad bai bak bal bam ban baq bas bat
bej bel bem ben ber bho bih bik bin bis bla bnt bos bra bre btk bua bug bul bur byn cad cai
car cat cau ceb cel cha chb che chg chi chk chm chn cho chp chr chu chv chy cmc cnr cop cor
cos cpe cpf cpp cre crh crp csb cus cze dak dan dar day del den dgr din div doi dra dsb dua
dum dut dyu dzo efi egy eka elx eng enm epo est ewe ewo fan fao fat fij fil fin fiu fon fre
frm fro frr frs fry ful fur gaa gay gba gem geo ger gez gil gla gle glg glv gmh goh gon gor
got grb grc gre grn gsw guj gwi hai hat hau haw heb her hil him hin hit hmn hmo hrv hsb hun
hup iba ibo ice ido iii ijo iku ile ilo ina inc ind ine inh ipk ira iro ita jav jbo jpn jpr
jrb kaa kab kac kal kam kan kar kas kau kaw kaz kbd kha khi khm kho kik kin kir kmb kok kom
kon kor kos kpe krc krl kro kru kua kum kur kut lad lah lam lao lat lav lez lim lin lit lol
loz ltz lua lub lug lui lun luo lus mac mad mag mah mai mak mal man mao map mar mas may mdf
mdr men mga mic min mis mkh mlg mlt mnc mni mno moh mon mos mul mun mus mwl mwr myn myv nah
nai nap nau nav nbl nde ndo nds nep new nia nic niu nno nob nog non nor nqo nso nub nwc nya
nym nyn nyo nzi oci oji ori orm osa oss ota oto paa pag pal pam pan pap pau peo per phi phn
pli pol pon por pra pro pus que raj rap rar roa roh rom rum run rup rus sad sag sah sai sal
sam san sas sat scn sco sel sem sga sgn shn sid sin sio sit sla slo slv sma sme smi smj smn
smo sms sna snd snk sog som son sot spa srd srn srp srr ssa ssw suk sun sus sux swa swe syc
syr tah tai tam tat tel tem ter tet tgk tgl tha tib tig tir tiv tkl tlh tli tmh tog ton tpi
tsi tsn tso tuk tum tup tur tut tvl twi tyv udm uga uig ukr umb und urd uzb vai ven vie vol
vot wak wal war was wel wen wln wol xal xho yao yap yid yor ypk zap zbl zen zgh zha znd zul
zun zxx zza`)

// isoToMarcCountry maps ISO 3166 alpha-2 codes (used by UNIMARC and in GND 043$c)
// to MARC21 country codes.
var isoToMarcCountry = map[string]string{
	"AD": "an", "AE": "ts", "AF": "af", "AG": "aq", "AI": "am", "AL": "aa", "AM": "ai",
	"AO": "ao", "AR": "ag", "AS": "as", "AT": "au", "AU": "at", "AW": "aw", "AZ": "aj",
	"BA": "bn", "BB": "bb", "BD": "bg", "BE": "be", "BF": "uv", "BG": "bu", "BH": "ba",
	"BI": "bd", "BJ": "dm", "BM": "bm", "BN": "bx", "BO": "bo", "BR": "bl", "BS": "bf",
	"BT": "bt", "BW": "bs", "BY": "bw", "BZ": "bh", "CA": "xxc", "CD": "cg", "CF": "cx",
	"CG": "cf", "CH": "sz", "CI": "iv", "CK": "cw", "CL": "cl", "CM": "cm", "CN": "cc",
	"CO": "ck", "CR": "cr", "CU": "cu", "CV": "cv", "CW": "co", "CY": "cy", "CZ": "xr",
	"DE": "gw", "DJ": "ft", "DK": "dk", "DM": "dq", "DO": "dr", "DZ": "ae", "EC": "ec",
	"EE": "er", "EG": "ua", "EH": "ss", "ER": "ea", "ES": "sp", "ET": "et", "FI": "fi",
	"FJ": "fj", "FK": "fk", "FM": "fm", "FO": "fa", "FR": "fr", "GA": "go", "GB": "xxk",
	"GD": "gd", "GE": "gs", "GF": "fg", "GH": "gh", "GI": "gi", "GL": "gl", "GM": "gm",
	"GN": "gv", "GP": "gp", "GQ": "eg", "GR": "gr", "GT": "gt", "GU": "gu", "GW": "pg",
	"GY": "gy", "HN": "ho", "HR": "ci", "HT": "ht", "HU": "hu", "ID": "io", "IE": "ie",
	"IL": "is", "IN": "ii", "IQ": "iq", "IR": "ir", "IS": "ic", "IT": "it", "JM": "jm",
	"JO": "jo", "JP": "ja", "KE": "ke", "KG": "kg", "KH": "cb", "KI": "gb", "KM": "cq",
	"KN": "xd", "KP": "kn", "KR": "ko", "KW": "ku", "KY": "cj", "KZ": "kz", "LA": "ls",
	"LB": "le", "LC": "xk", "LI": "lh", "LK": "ce", "LR": "lb", "LS": "lo", "LT": "li",
	"LU": "lu", "LV": "lv", "LY": "ly", "MA": "mr", "MC": "mc", "MD": "mv", "ME": "mo",
	"MG": "mg", "MH": "xe", "MK": "xn", "ML": "ml", "MM": "br", "MN": "mp", "MQ": "mq",
	"MR": "mu", "MS": "mj", "MT": "mm", "MU": "mf", "MV": "xc", "MW": "mw", "MX": "mx",
	"MY": "my", "MZ": "mz", "NA": "sx", "NC": "nl", "NE": "ng", "NG": "nr", "NI": "nq",
	"NL": "ne", "NO": "no", "NP": "np", "NR": "nu", "NU": "xh", "NZ": "nz", "OM": "mk",
	"PA": "pn", "PE": "pe", "PF": "fp", "PG": "pp", "PH": "ph", "PK": "pk", "PL": "pl",
	"PM": "xl", "PR": "pr", "PT": "po", "PW": "pw", "PY": "py", "QA": "qa", "RE": "re",
	"RO": "rm", "RS": "rb", "RU": "ru", "RW": "rw", "SA": "su", "SB": "bp", "SC": "se",
	"SD": "sj", "SE": "sw", "SG": "si", "SH": "xj", "SI": "xv", "SK": "xo", "SL": "sl",
	"SM": "sm", "SN": "sg", "SO": "so", "SR": "sr", "SS": "sd", "ST": "sf", "SV": "es",
	"SY": "sy", "SZ": "sq", "TC": "tc", "TD": "cd", "TG": "tg", "TH": "th", "TJ": "ta",
	"TK": "tl", "TL": "em", "TM": "tk", "TN": "ti", "TO": "to", "TR": "tu", "TT": "tr",
	"TV": "tv", "TW": "ch", "TZ": "tz", "UA": "un", "UG": "ug", "US": "xxu", "UY": "uy",
	"UZ": "uz", "VA": "vc", "VC": "xm", "VE": "ve", "VG": "vb", "VI": "vi", "VN": "vm",
	"VU": "nn", "WF": "wf", "WS": "ws", "XK": "kv", "YE": "ye", "YT": "ot", "ZA": "sa",
	"ZM": "za", "ZW": "rh",
}

// marcCountryCodes is the closed MARC21 country set accepted in country_associated.
var marcCountryCodes = func() map[string]bool {
	set := make(map[string]bool, len(isoToMarcCountry))
	for _, v := range isoToMarcCountry {
		set[v] = true
	}
	return set
}()

// languageScripts maps the UNIMARC $7 script code to an ISO 15924 style name.
var languageScripts = map[string]string{
	"ba": "latn",
	"ca": "cyrl",
	"da": "jpan",
	"db": "hira",
	"dc": "kana",
	"ea": "hani",
	"fa": "arab",
	"ga": "grek",
	"ha": "hebr",
	"ia": "thai",
	"ja": "deva",
	"ka": "kore",
	"la": "taml",
	"ma": "geor",
	"mb": "armn",
	"zz": "zyyy",
}

// Language returns the code when it belongs to the closed language set.
func Language(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if languageCodes[code] {
		return code
	}
	return ""
}

// Country maps an ISO alpha-2 code to a MARC21 country code of the closed set.
func Country(iso string) string {
	code := isoToMarcCountry[strings.ToUpper(strings.TrimSpace(iso))]
	if marcCountryCodes[code] {
		return code
	}
	return ""
}

func setOf(words string) map[string]bool {
	set := map[string]bool{}
	for _, w := range strings.Fields(words) {
		set[w] = true
	}
	return set
}
