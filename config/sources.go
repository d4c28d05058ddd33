package config

import (
	"os"

	"github.com/Ramsey-B/mef/pkg/models"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Feed is the OAI selection for one (source, kind).
type Feed struct {
	MetadataPrefix string   `yaml:"metadata_prefix" validate:"required"`
	Sets           []string `yaml:"sets"`
}

// SourceConfig describes one OAI repository.
type SourceConfig struct {
	Endpoint string `yaml:"endpoint" validate:"required,url"`
	// Repository is the middle part of oai:<repository>:<pid> identifiers.
	Repository string               `yaml:"repository"`
	Feeds      map[models.Kind]Feed `yaml:"kinds" validate:"dive"`
}

// Sources maps each authority source to its repository.
type Sources map[models.Source]SourceConfig

type sourcesFile struct {
	Sources Sources `yaml:"sources"`
}

// DefaultSources are the public OAI endpoints of the three authority sources.
func DefaultSources() Sources {
	return Sources{
		models.SourceGND: {
			Endpoint:   "https://services.dnb.de/oai/repository",
			Repository: "dnb.de",
			Feeds: map[models.Kind]Feed{
				models.KindAgents:   {MetadataPrefix: "MARC21-xml", Sets: []string{"authorities:person", "authorities:koerperschaft", "authorities:kongress"}},
				models.KindConcepts: {MetadataPrefix: "MARC21-xml", Sets: []string{"authorities:sachbegriff"}},
				models.KindPlaces:   {MetadataPrefix: "MARC21-xml", Sets: []string{"authorities:geografikum"}},
			},
		},
		models.SourceIdRef: {
			Endpoint:   "https://www.idref.fr/OAI/oai.jsp",
			Repository: "IdRefOAIServer.fr",
			Feeds: map[models.Kind]Feed{
				models.KindAgents:   {MetadataPrefix: "marc-xml", Sets: []string{"a", "b"}},
				models.KindConcepts: {MetadataPrefix: "marc-xml", Sets: []string{"r"}},
				models.KindPlaces:   {MetadataPrefix: "marc-xml", Sets: []string{"c"}},
			},
		},
		models.SourceRERO: {
			Endpoint:   "https://data.rero.ch/oai",
			Repository: "data.rero.ch",
			Feeds: map[models.Kind]Feed{
				models.KindAgents:   {MetadataPrefix: "marcxml", Sets: []string{"agents"}},
				models.KindConcepts: {MetadataPrefix: "marcxml", Sets: []string{"concepts"}},
			},
		},
	}
}

// LoadSources returns the defaults, replaced per source by the entries of path when set.
func LoadSources(path string) (Sources, error) {
	sources := DefaultSources()
	if path == "" {
		return sources, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read sources file %s", path)
	}
	var file sourcesFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, errors.Wrapf(err, "failed to parse sources file %s", path)
	}

	validate := validator.New()
	for name, sc := range file.Sources {
		if _, err := models.ParseSource(string(name)); err != nil {
			return nil, err
		}
		if err := validate.Struct(sc); err != nil {
			return nil, errors.Wrapf(err, "invalid source %s", name)
		}
		for kind := range sc.Feeds {
			if _, err := models.ParseKind(string(kind)); err != nil {
				return nil, err
			}
		}
		sources[name] = sc
	}
	return sources, nil
}

// Feed returns the selection for (source, kind).
func (s Sources) Feed(source models.Source, kind models.Kind) (SourceConfig, Feed, bool) {
	sc, ok := s[source]
	if !ok {
		return SourceConfig{}, Feed{}, false
	}
	feed, ok := sc.Feeds[kind]
	return sc, feed, ok
}
