package fleet

import (
	"context"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/charlie0129/battfleet/pkg/graph"
)

// Enrichment is the directory data of one user.
type Enrichment struct {
	// Key is the lower-cased user principal name.
	Key  string
	Info UserInfo
}

// Enrich looks up the directory data of every distinct user in rows. It
// returns immediately; results arrive on the channel in completion order
// and the channel is closed when all lookups are done. Failed lookups are
// logged and skipped.
func (a *Aggregator) Enrich(ctx context.Context, rows []Row) <-chan Enrichment {
	seen := map[string]struct{}{}
	var upns []string
	for _, r := range rows {
		key := r.UserKey()
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		upns = append(upns, r.UserPrincipalName)
	}

	out := make(chan Enrichment, len(upns))

	go func() {
		defer close(out)

		var g errgroup.Group
		g.SetLimit(a.concurrency)

		for _, upn := range upns {
			upn := upn
			g.Go(func() error {
				info, ok := a.lookup(ctx, upn)
				if !ok {
					return nil
				}
				select {
				case out <- Enrichment{Key: userKey(upn), Info: info}:
				case <-ctx.Done():
				}
				return nil
			})
		}

		_ = g.Wait()
	}()

	return out
}

func (a *Aggregator) lookup(ctx context.Context, upn string) (UserInfo, bool) {
	if ctx.Err() != nil {
		return UserInfo{}, false
	}

	log := logrus.WithField("user", upn)

	u, err := a.api.GetUser(ctx, upn)
	if err != nil {
		enrichFailuresTotal.Inc()
		log.WithError(err).Warn("failed to look up user, leaving directory fields empty")
		return UserInfo{}, false
	}

	info := userInfo(u)

	m, err := a.api.GetManager(ctx, upn)
	switch {
	case err == nil:
		info.Manager = m.DisplayName
	case graph.IsNotFound(err):
		// No manager assigned.
	default:
		enrichFailuresTotal.Inc()
		log.WithError(err).Debug("failed to look up manager")
	}

	return info, true
}

func userInfo(u *graph.User) UserInfo {
	return UserInfo{
		UserDisplayName: u.DisplayName,
		Department:      u.Department,
		JobTitle:        u.JobTitle,
		OfficeLocation:  u.OfficeLocation,
		City:            u.City,
		Country:         u.Country,
	}
}
