// Package kernel folds the record stream of one grid cell into a single
// result.
//
// Two traversal modes exist. The direct mode maps every record on its own.
// The grouping mode buffers consecutive records sharing a group key (the
// entity) and hands each maximal run to the mapper at once. Grouping relies
// on the record source delivering all records of one entity adjacently;
// interleaved input yields split groups and cannot be detected here.
//
// The kernel consults a Token before every record and stops consuming the
// cell once the token is cancelled, returning what has been accumulated so
// far. Errors returned by the mapper are passed through unchanged.
package kernel

import "iter"

// Fold maps every record and folds the result into acc.
func Fold[X, R, S any](
	records iter.Seq[X],
	mapper func(X) (R, error),
	acc S,
	accumulate func(S, R) S,
	token *Token,
) (S, error) {
	for rec := range records {
		if !token.Active() {
			break
		}
		r, err := mapper(rec)
		if err != nil {
			return acc, err
		}
		acc = accumulate(acc, r)
	}
	return acc, nil
}

// FoldGroups passes every maximal run of records with equal key to mapper
// and folds all of its outputs into acc. A run cut short by cancellation is
// dropped, so mapper only ever sees complete runs.
func FoldGroups[X any, K comparable, R, S any](
	records iter.Seq[X],
	key func(X) K,
	mapper func([]X) ([]R, error),
	acc S,
	accumulate func(S, R) S,
	token *Token,
) (S, error) {
	var (
		group   []X
		current K
	)
	flush := func() error {
		out, err := mapper(group)
		if err != nil {
			return err
		}
		for _, r := range out {
			acc = accumulate(acc, r)
		}
		group = nil
		return nil
	}
	for rec := range records {
		if !token.Active() {
			return acc, nil
		}
		k := key(rec)
		if len(group) > 0 && k != current {
			if err := flush(); err != nil {
				return acc, err
			}
		}
		current = k
		group = append(group, rec)
	}
	if len(group) > 0 && token.Active() {
		if err := flush(); err != nil {
			return acc, err
		}
	}
	return acc, nil
}

func appendTo[R any](buf []R, r R) []R {
	return append(buf, r)
}

// Collect is the non-reducing variant of Fold: mapped values are kept in
// record order.
func Collect[X, R any](records iter.Seq[X], mapper func(X) (R, error), token *Token) ([]R, error) {
	return Fold(records, mapper, []R(nil), appendTo[R], token)
}

// CollectGroups is the non-reducing variant of FoldGroups.
func CollectGroups[X any, K comparable, R any](
	records iter.Seq[X],
	key func(X) K,
	mapper func([]X) ([]R, error),
	token *Token,
) ([]R, error) {
	return FoldGroups(records, key, mapper, []R(nil), appendTo[R], token)
}
