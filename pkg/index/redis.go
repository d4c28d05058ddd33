package index

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	mefErrors "github.com/Ramsey-B/mef/pkg/errors"
	"github.com/Ramsey-B/mef/pkg/models"
	mefRedis "github.com/Ramsey-B/mef/pkg/redis"
	"github.com/Ramsey-B/mef/pkg/tracing"
)

const termSep = "\x00"

// Redis keeps one set per term, one set of terms per document and a sorted set of
// _updated timestamps per (kind, source).
type Redis struct {
	client *mefRedis.Client
}

func NewRedis(client *mefRedis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) termKey(kind models.Kind, source models.Source, t Term) string {
	return r.client.Key("idx", string(kind), string(source), "t", t.Field, t.Value)
}

func (r *Redis) docKey(key models.Key) string {
	return r.client.Key("idx", string(key.Kind), string(key.Source), "doc", key.Pid)
}

func (r *Redis) updatedKey(kind models.Kind, source models.Source) string {
	return r.client.Key("idx", string(kind), string(source), "updated")
}

func indexError(err error, msg string) error {
	if err == nil {
		return nil
	}
	return mefErrors.Wrap(mefErrors.CodeStoreError, err, msg)
}

func (r *Redis) Index(ctx context.Context, doc *models.Document) error {
	ctx, span := tracing.StartSpan(ctx, "index.Redis.Index")
	defer span.End()

	rdb := r.client.Redis()
	key := doc.Key
	old, err := rdb.SMembers(ctx, r.docKey(key)).Result()
	if err != nil {
		return indexError(err, "read terms of "+key.String())
	}

	terms := Terms(doc)
	_, err = rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, encoded := range old {
			field, value, _ := strings.Cut(encoded, termSep)
			pipe.SRem(ctx, r.termKey(key.Kind, key.Source, Term{field, value}), key.Pid)
		}
		pipe.Del(ctx, r.docKey(key))
		encodedTerms := make([]any, 0, len(terms))
		for _, t := range terms {
			pipe.SAdd(ctx, r.termKey(key.Kind, key.Source, t), key.Pid)
			encodedTerms = append(encodedTerms, t.Field+termSep+t.Value)
		}
		if len(encodedTerms) > 0 {
			pipe.SAdd(ctx, r.docKey(key), encodedTerms...)
		}
		pipe.ZAdd(ctx, r.updatedKey(key.Kind, key.Source), redis.Z{
			Score:  float64(doc.Updated.UnixMicro()),
			Member: key.Pid,
		})
		return nil
	})
	return indexError(err, "index "+key.String())
}

func (r *Redis) Remove(ctx context.Context, key models.Key) error {
	rdb := r.client.Redis()
	old, err := rdb.SMembers(ctx, r.docKey(key)).Result()
	if err != nil {
		return indexError(err, "read terms of "+key.String())
	}
	_, err = rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, encoded := range old {
			field, value, _ := strings.Cut(encoded, termSep)
			pipe.SRem(ctx, r.termKey(key.Kind, key.Source, Term{field, value}), key.Pid)
		}
		pipe.Del(ctx, r.docKey(key))
		pipe.ZRem(ctx, r.updatedKey(key.Kind, key.Source), key.Pid)
		return nil
	})
	return indexError(err, "remove "+key.String())
}

func (r *Redis) Search(ctx context.Context, kind models.Kind, source models.Source, field, value string) ([]string, error) {
	pids, err := r.client.Redis().SMembers(ctx, r.termKey(kind, source, Term{field, value})).Result()
	if err != nil {
		return nil, indexError(err, "search "+field)
	}
	sort.Strings(pids)
	return pids, nil
}

func (r *Redis) UpdatedSince(ctx context.Context, kind models.Kind, source models.Source, from time.Time) ([]string, error) {
	lower := "-inf"
	if !from.IsZero() {
		lower = strconv.FormatInt(from.UnixMicro(), 10)
	}
	pids, err := r.client.Redis().ZRangeByScore(ctx, r.updatedKey(kind, source), &redis.ZRangeBy{Min: lower, Max: "+inf"}).Result()
	return pids, indexError(err, "updated since")
}

// FlushAndRefresh has nothing to do: every Redis write is visible once acknowledged.
func (r *Redis) FlushAndRefresh(context.Context, models.Kind, models.Source) error { return nil }

func (r *Redis) Ping(ctx context.Context) error {
	return indexError(r.client.Ping(ctx), "ping")
}
