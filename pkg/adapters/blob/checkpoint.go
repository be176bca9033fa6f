// Package blob stores checkpoint snapshots in object storage through
// gocloud.dev/blob, supporting S3, GCS, Azure Blob Storage, local
// directories (file://) and memory (mem://).
package blob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"

	"github.com/aretw0/tendril/pkg/domain"
	cloudblob "gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	_ "gocloud.dev/blob/azureblob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
)

// DefaultPrefix is the key prefix used when none is given.
const DefaultPrefix = "checkpoints/"

// Checkpoints implements ports.CheckpointStore. Each snapshot is one JSON
// object at <prefix><process>/<label>.json.
type Checkpoints struct {
	bucket *cloudblob.Bucket
	prefix string
}

// Open opens the bucket at bucketURL.
func Open(ctx context.Context, bucketURL, prefix string) (*Checkpoints, error) {
	bucket, err := cloudblob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint bucket: %w", err)
	}
	return New(bucket, prefix), nil
}

// New wraps an open bucket.
func New(bucket *cloudblob.Bucket, prefix string) *Checkpoints {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Checkpoints{bucket: bucket, prefix: prefix}
}

// Upload writes state under (state.ID, label), replacing an earlier snapshot.
func (c *Checkpoints) Upload(ctx context.Context, state *domain.ProcessState, label string) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	opts := &cloudblob.WriterOptions{
		ContentType: "application/json",
		Metadata: map[string]string{
			"process": state.ID,
			"label":   label,
			"status":  string(state.Status),
		},
	}
	if err := c.bucket.WriteAll(ctx, c.keyFor(state.ID, label), data, opts); err != nil {
		return fmt.Errorf("failed to upload checkpoint %q: %w", label, err)
	}
	return nil
}

// Download reads the snapshot stored under (processID, label).
func (c *Checkpoints) Download(ctx context.Context, processID, label string) (*domain.ProcessState, error) {
	data, err := c.bucket.ReadAll(ctx, c.keyFor(processID, label))
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, domain.ErrCheckpointNotFound
		}
		return nil, err
	}

	var state domain.ProcessState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &state, nil
}

// Labels lists the checkpoint labels stored for processID, sorted.
func (c *Checkpoints) Labels(ctx context.Context, processID string) ([]string, error) {
	dir := c.prefix + url.PathEscape(processID) + "/"
	it := c.bucket.List(&cloudblob.ListOptions{Prefix: dir})

	var labels []string
	for {
		obj, err := it.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		name := strings.TrimSuffix(strings.TrimPrefix(obj.Key, dir), ".json")
		label, err := url.PathUnescape(name)
		if err != nil {
			continue
		}
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels, nil
}

// Delete removes every checkpoint of processID.
func (c *Checkpoints) Delete(ctx context.Context, processID string) error {
	labels, err := c.Labels(ctx, processID)
	if err != nil {
		return err
	}
	for _, label := range labels {
		err := c.bucket.Delete(ctx, c.keyFor(processID, label))
		if err != nil && gcerrors.Code(err) != gcerrors.NotFound {
			return err
		}
	}
	return nil
}

func (c *Checkpoints) Close() error {
	return c.bucket.Close()
}

// keyFor escapes both parts so labels containing "/" stay one object.
func (c *Checkpoints) keyFor(processID, label string) string {
	return c.prefix + url.PathEscape(processID) + "/" + url.PathEscape(label) + ".json"
}
