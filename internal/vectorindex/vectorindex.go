// Package vectorindex mirrors document embeddings between the per-environment
// Weaviate classes. Each entity class exists once per environment
// (DocumentDev, DocumentStage, DocumentProd); promotion copies points across,
// rollback deletes them again.
package vectorindex

import (
	"context"
	"fmt"
	"strings"

	"github.com/weaviate/weaviate-go-client/v4/weaviate"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/nimbusworks/envlift/internal/environment"
)

// Index is the vector surface the promotion flow needs.
type Index interface {
	CopyPoints(ctx context.Context, class string, source, target environment.Environment, ids []string) ([]string, error)
	DeletePoints(ctx context.Context, class string, env environment.Environment, ids []string) error
}

type WeaviateIndex struct {
	client *weaviate.Client
}

// NewWeaviateIndex connects to a Weaviate server. rawURL may carry an http://
// or https:// prefix; plain host:port defaults to http.
func NewWeaviateIndex(rawURL string) (*WeaviateIndex, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("weaviate url required")
	}
	cfg := weaviate.Config{
		Host:   rawURL,
		Scheme: "http",
	}
	if strings.HasPrefix(rawURL, "https://") {
		cfg.Scheme = "https"
		cfg.Host = strings.TrimPrefix(rawURL, "https://")
	} else if strings.HasPrefix(rawURL, "http://") {
		cfg.Host = strings.TrimPrefix(rawURL, "http://")
	}
	client, err := weaviate.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}
	return &WeaviateIndex{client: client}, nil
}

func (w *WeaviateIndex) Ready(ctx context.Context) error {
	ready, err := w.client.Misc().ReadyChecker().Do(ctx)
	if err != nil {
		return fmt.Errorf("weaviate ready check: %w", err)
	}
	if !ready {
		return fmt.Errorf("weaviate not ready")
	}
	return nil
}

func classSuffix(env environment.Environment) string {
	switch env {
	case environment.Dev:
		return "Dev"
	case environment.Stage:
		return "Stage"
	case environment.Prod:
		return "Prod"
	}
	return ""
}

func className(class string, env environment.Environment) string {
	return class + classSuffix(env)
}

// EnsureClasses creates the per-environment classes that are missing. Vectors
// arrive precomputed from the embedding pipeline, so the classes carry no
// vectorizer.
func (w *WeaviateIndex) EnsureClasses(ctx context.Context, classes []string) error {
	for _, class := range classes {
		for _, env := range environment.All() {
			name := className(class, env)
			if _, err := w.client.Schema().ClassGetter().WithClassName(name).Do(ctx); err == nil {
				continue
			}
			err := w.client.Schema().ClassCreator().WithClass(&models.Class{
				Class:      name,
				Vectorizer: "none",
			}).Do(ctx)
			if err != nil {
				return fmt.Errorf("create class %s: %w", name, err)
			}
		}
	}
	return nil
}

// CopyPoints reads each point from the source environment's class and writes
// it under the same id into the target's. The returned ids are what rollback
// must delete.
func (w *WeaviateIndex) CopyPoints(ctx context.Context, class string, source, target environment.Environment, ids []string) ([]string, error) {
	created := make([]string, 0, len(ids))
	for _, id := range ids {
		objs, err := w.client.Data().ObjectsGetter().
			WithClassName(className(class, source)).
			WithID(id).
			WithVector().
			Do(ctx)
		if err != nil {
			if isNotFoundError(err) {
				return created, fmt.Errorf("point %s not found in %s", id, className(class, source))
			}
			return created, fmt.Errorf("get point %s: %w", id, err)
		}
		if len(objs) == 0 {
			return created, fmt.Errorf("point %s not found in %s", id, className(class, source))
		}
		obj := objs[0]

		_, err = w.client.Data().Creator().
			WithClassName(className(class, target)).
			WithID(id).
			WithProperties(obj.Properties).
			WithVector(obj.Vector).
			Do(ctx)
		if err != nil {
			return created, fmt.Errorf("create point %s in %s: %w", id, className(class, target), err)
		}
		created = append(created, id)
	}
	return created, nil
}

// DeletePoints removes ids from the environment's class. Missing points are
// skipped so a retried rollback converges.
func (w *WeaviateIndex) DeletePoints(ctx context.Context, class string, env environment.Environment, ids []string) error {
	for _, id := range ids {
		err := w.client.Data().Deleter().
			WithClassName(className(class, env)).
			WithID(id).
			Do(ctx)
		if err != nil && !isNotFoundError(err) {
			return fmt.Errorf("delete point %s from %s: %w", id, className(class, env), err)
		}
	}
	return nil
}

// Weaviate surfaces missing objects as errors with no typed sentinel; the
// status text is all there is to go on.
func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "not found") ||
		strings.Contains(msg, "404") ||
		strings.Contains(msg, "does not exist")
}
