package gcpblob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
	golog "github.com/ipfs/go-log/v2"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

var log = golog.Logger("bidsmigrate/gcpblob")

// Bucket reads legacy bid documents from, and uploads exports to, a GCS bucket.
type Bucket struct {
	name   string
	client *storage.Client
	bucket *storage.BucketHandle
}

// New returns a new GCS bucket handle. Without credentialsJSON the default
// application credentials are used.
func New(bucketName, credentialsJSON string) (*Bucket, error) {
	if bucketName == "" {
		return nil, errors.New("bucket name is empty")
	}
	ctx, cls := context.WithTimeout(context.Background(), time.Second*15)
	defer cls()

	var opts []option.ClientOption
	if credentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(credentialsJSON)))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating client: %s", err)
	}

	return &Bucket{
		name:   bucketName,
		client: client,
		bucket: client.Bucket(bucketName),
	}, nil
}

// List returns the names of the objects under prefix.
func (b *Bucket) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	it := b.bucket.Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("listing objects: %s", err)
		}
		names = append(names, attrs.Name)
	}
	log.Debugf("found %d objects under %q", len(names), prefix)
	return names, nil
}

// Open returns a reader of the object content.
func (b *Bucket) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	r, err := b.bucket.Object(name).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %s", name, err)
	}
	return r, nil
}

// Store uploads a new object and returns its gs:// URL. Existing objects are
// left untouched.
func (b *Bucket) Store(ctx context.Context, name string, r io.Reader) (string, error) {
	_, err := b.bucket.Object(name).Attrs(ctx)
	switch {
	case errors.Is(err, storage.ErrObjectNotExist):
		log.Debugf("creating %s in the bucket", name)
		w := b.bucket.Object(name).NewWriter(ctx)
		w.ContentType = "application/json"
		if _, err := io.Copy(w, r); err != nil {
			_ = w.Close()
			return "", fmt.Errorf("uploading data: %s", err)
		}
		if err := w.Close(); err != nil {
			return "", fmt.Errorf("closing uploader: %s", err)
		}
	case err != nil:
		return "", fmt.Errorf("getting object attributes: %s", err)
	default:
		log.Warnf("object with name %s already exist in the bucket", name)
	}
	return fmt.Sprintf("gs://%s/%s", b.name, name), nil
}

// Close closes the client.
func (b *Bucket) Close() error {
	if err := b.client.Close(); err != nil {
		return fmt.Errorf("closing client: %s", err)
	}
	return nil
}
