package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

var utf8BOM = []byte("\xef\xbb\xbf")

// Documents reads and writes JSON documents on top of a Store. Writes that
// lose a revision race are retried from a fresh read.
type Documents struct {
	store           Store
	log             *zap.Logger
	maxTries        uint
	initialInterval time.Duration
}

// NewDocuments wraps store. A lost write is attempted at most four times.
func NewDocuments(store Store, log *zap.Logger) *Documents {
	return &Documents{
		store:           store,
		log:             log,
		maxTries:        4,
		initialInterval: 100 * time.Millisecond,
	}
}

// WithRetry returns a copy of d with a different conflict retry policy.
func (d *Documents) WithRetry(maxTries uint, initialInterval time.Duration) *Documents {
	c := *d
	c.maxTries = maxTries
	c.initialInterval = initialInterval
	return &c
}

func (d *Documents) retryOptions() []backoff.RetryOption {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.initialInterval
	b.MaxInterval = 2 * time.Second
	return []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(d.maxTries),
	}
}

// ReadJSON loads the document at path into a T.
//
// A missing document yields fallback() and an empty revision. Empty or
// unparsable content yields fallback() together with the stored revision so
// the broken file can still be overwritten. Store failures are returned.
func ReadJSON[T any](ctx context.Context, d *Documents, path string, fallback func() T) (T, string, error) {
	doc, err := d.store.Get(ctx, path)
	if errors.Is(err, ErrNotFound) {
		return fallback(), "", nil
	}
	if err != nil {
		var zero T
		return zero, "", err
	}

	content := bytes.TrimSpace(bytes.TrimPrefix(doc.Content, utf8BOM))
	if len(content) == 0 {
		return fallback(), doc.Revision, nil
	}

	var v T
	if err := json.Unmarshal(content, &v); err != nil {
		d.log.Warn("unparsable document, using default",
			zap.String("path", path),
			zap.String("revision", doc.Revision),
			zap.Error(err))
		return fallback(), doc.Revision, nil
	}
	return v, doc.Revision, nil
}

// UpdateJSON runs a read-modify-write cycle on path. mutate reports whether
// it changed the value; unchanged values are not written. If the write loses
// a revision race the cycle restarts from a fresh read, so mutate must be
// safe to call more than once. Errors returned by mutate abort the update.
func UpdateJSON[T any](
	ctx context.Context,
	d *Documents,
	path string,
	fallback func() T,
	message string,
	mutate func(*T) (bool, error),
) (T, bool, error) {
	type result struct {
		value   T
		changed bool
	}

	attempt := 0
	op := func() (result, error) {
		attempt++
		v, rev, err := ReadJSON(ctx, d, path, fallback)
		if err != nil {
			return result{}, backoff.Permanent(err)
		}
		changed, err := mutate(&v)
		if err != nil {
			return result{}, backoff.Permanent(err)
		}
		if !changed {
			return result{value: v}, nil
		}
		data, err := encodeJSON(v)
		if err != nil {
			return result{}, backoff.Permanent(err)
		}
		if _, err := d.store.Put(ctx, path, data, rev, message); err != nil {
			if errors.Is(err, ErrConflict) {
				d.log.Info("document changed concurrently, retrying",
					zap.String("path", path), zap.Int("attempt", attempt))
				return result{}, err
			}
			return result{}, backoff.Permanent(err)
		}
		return result{value: v, changed: true}, nil
	}

	res, err := backoff.Retry(ctx, op, d.retryOptions()...)
	if err != nil {
		var zero T
		return zero, false, err
	}
	return res.value, res.changed, nil
}

// ReplaceJSON overwrites path with v regardless of its current content. The
// current revision is looked up right before writing so an existing file is
// replaced rather than shadowed; a lost race repeats the lookup.
func (d *Documents) ReplaceJSON(ctx context.Context, path string, v any, message string) (string, error) {
	data, err := encodeJSON(v)
	if err != nil {
		return "", err
	}

	op := func() (string, error) {
		var rev string
		doc, err := d.store.Get(ctx, path)
		switch {
		case err == nil:
			rev = doc.Revision
		case errors.Is(err, ErrNotFound):
		default:
			return "", backoff.Permanent(err)
		}

		newRev, err := d.store.Put(ctx, path, data, rev, message)
		if errors.Is(err, ErrConflict) {
			d.log.Info("document replaced concurrently, retrying", zap.String("path", path))
			return "", err
		}
		if err != nil {
			return "", backoff.Permanent(err)
		}
		return newRev, nil
	}

	return backoff.Retry(ctx, op, d.retryOptions()...)
}

func encodeJSON(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
