package barcode

import (
	"context"
	"fmt"

	tl "github.com/tuumbleweed/tintlog/logger"
	"github.com/tuumbleweed/tintlog/palette"
	"github.com/tuumbleweed/xerr"
)

// Lookuper is the remote catalog.
type Lookuper interface {
	Lookup(ctx context.Context, code string) (result LookupResult, e *xerr.Error)
}

type Service struct {
	cache  *Cache
	remote Lookuper
}

func NewService(cache *Cache, remote Lookuper) *Service {
	return &Service{cache: cache, remote: remote}
}

func (s *Service) Cache() *Cache {
	return s.cache
}

/*
Lookup answers from the cache when it can and asks the remote catalog
otherwise. Positive remote answers are cached; a failed cache write is only
logged.
*/
func (s *Service) Lookup(ctx context.Context, raw string) (result LookupResult, fromCache bool, e *xerr.Error) {
	code, ok := Normalize(raw)
	if !ok {
		return LookupResult{Code: raw}, false, xerr.NewError(fmt.Errorf("'%s' is not an EAN/UPC code", raw), "validate barcode", raw)
	}

	if entry := s.cache.Get(ctx, code); entry != nil {
		tl.Log(tl.Info1, palette.Green, "Barcode '%s' served from %s", code, "cache")
		return entry.Result, true, nil
	}

	result, e = s.remote.Lookup(ctx, code)
	if e != nil {
		return result, false, e
	}
	if setErr := s.cache.Set(ctx, code, result); setErr != nil {
		tl.Log(tl.Warning, palette.Purple, "Caching barcode '%s' %s: '%s'", code, "failed", setErr)
	}
	return result, false, nil
}
