package vector

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/ppiankov/concordia/internal/model"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// DefaultClassName is the Weaviate class holding section vectors
const DefaultClassName = "ConcordiaSection"

// WeaviateIndex stores section vectors in a Weaviate class with vectorizer "none"
type WeaviateIndex struct {
	client    *weaviate.Client
	className string
}

// NewWeaviateIndex connects to rawURL and ensures the class exists
func NewWeaviateIndex(ctx context.Context, rawURL, className string) (*WeaviateIndex, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid weaviate URL %q", rawURL)
	}
	if className == "" {
		className = DefaultClassName
	}

	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsed.Host,
		Scheme: parsed.Scheme,
	})
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}

	idx := &WeaviateIndex{client: client, className: className}
	if err := idx.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return idx, nil
}

// Name returns the backend name
func (w *WeaviateIndex) Name() string { return "weaviate" }

func (w *WeaviateIndex) ensureSchema(ctx context.Context) error {
	if _, err := w.client.Schema().ClassGetter().WithClassName(w.className).Do(ctx); err == nil {
		return nil
	}

	class := sectionClass(w.className)
	if err := w.client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return fmt.Errorf("create weaviate class %s: %w", w.className, err)
	}
	slog.Info("Created weaviate class", "class", w.className)
	return nil
}

// sectionClass is the schema for indexed sections. Id and type properties use
// field tokenization so filters match whole values, not UUID fragments.
func sectionClass(className string) *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       className,
		Description: "Document sections indexed for reconciliation",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{Name: "sectionId", DataType: []string{"text"}, IndexFilterable: indexFilterable, Tokenization: "field"},
			{Name: "documentId", DataType: []string{"text"}, IndexFilterable: indexFilterable, Tokenization: "field"},
			{Name: "header", DataType: []string{"text"}},
			{Name: "content", DataType: []string{"text"}},
			{Name: "documentType", DataType: []string{"text"}, IndexFilterable: indexFilterable, Tokenization: "field"},
			{Name: "authorityLevel", DataType: []string{"int"}, IndexFilterable: indexFilterable},
			{Name: "deprecated", DataType: []string{"boolean"}, IndexFilterable: indexFilterable},
		},
	}
}

// objectID derives a stable UUID from the section id so re-indexing replaces
func objectID(sectionID string) strfmt.UUID {
	hash := sha256.Sum256([]byte(sectionID))
	id, _ := uuid.FromBytes(hash[:16])
	return strfmt.UUID(id.String())
}

// Upsert imports entries in one batch request
func (w *WeaviateIndex) Upsert(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	objects := make([]*models.Object, len(entries))
	for i, e := range entries {
		objects[i] = &models.Object{
			Class:  w.className,
			ID:     objectID(e.SectionID),
			Vector: e.Vector,
			Properties: map[string]interface{}{
				"sectionId":      e.SectionID,
				"documentId":     e.DocumentID,
				"header":         e.Header,
				"content":        e.Content,
				"documentType":   string(e.DocumentType),
				"authorityLevel": e.AuthorityLevel,
				"deprecated":     e.Deprecated,
			},
		}
	}

	resp, err := w.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return fmt.Errorf("weaviate batch import: %w", err)
	}

	failed := 0
	for _, item := range resp {
		if item.Result != nil && item.Result.Status != nil && *item.Result.Status == "SUCCESS" {
			continue
		}
		failed++
		if item.Result != nil && item.Result.Errors != nil {
			for _, e := range item.Result.Errors.Error {
				slog.Warn("Weaviate batch item failed", "error", e.Message)
			}
		}
	}
	if failed > 0 {
		return fmt.Errorf("weaviate batch import: %d of %d objects failed", failed, len(entries))
	}
	return nil
}

func (w *WeaviateIndex) where(q Query) *filters.WhereBuilder {
	var operands []*filters.WhereBuilder
	if !q.IncludeDeprecated {
		operands = append(operands, filters.Where().
			WithPath([]string{"deprecated"}).
			WithOperator(filters.Equal).
			WithValueBoolean(false))
	}
	if len(q.DocumentIDs) > 0 {
		operands = append(operands, filters.Where().
			WithPath([]string{"documentId"}).
			WithOperator(filters.ContainsAny).
			WithValueText(q.DocumentIDs...))
	}

	switch len(operands) {
	case 0:
		return nil
	case 1:
		return operands[0]
	}
	return filters.Where().WithOperator(filters.And).WithOperands(operands)
}

var hitFields = []graphql.Field{
	{Name: "sectionId"},
	{Name: "documentId"},
	{Name: "header"},
	{Name: "content"},
	{Name: "documentType"},
	{Name: "authorityLevel"},
	{Name: "deprecated"},
	{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}},
}

// Search runs a nearVector query. Similarity is 1 - cosine distance.
func (w *WeaviateIndex) Search(ctx context.Context, q Query) ([]Hit, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	get := w.client.GraphQL().Get().
		WithClassName(w.className).
		WithFields(hitFields...).
		WithNearVector(w.client.GraphQL().NearVectorArgBuilder().WithVector(q.Vector)).
		WithLimit(limit)
	if where := w.where(q); where != nil {
		get = get.WithWhere(where)
	}

	result, err := get.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate search: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("weaviate search error: %s", result.Errors[0].Message)
	}

	hits, err := parseHits(result, w.className)
	if err != nil {
		return nil, err
	}
	return rank(hits, q), nil
}

// Vectors fetches stored vectors through _additional { vector }
func (w *WeaviateIndex) Vectors(ctx context.Context, sectionIDs []string) (map[string][]float32, error) {
	out := make(map[string][]float32, len(sectionIDs))
	if len(sectionIDs) == 0 {
		return out, nil
	}

	result, err := w.client.GraphQL().Get().
		WithClassName(w.className).
		WithFields(graphql.Field{Name: "sectionId"}, graphql.Field{Name: "_additional", Fields: []graphql.Field{{Name: "vector"}}}).
		WithWhere(filters.Where().
			WithPath([]string{"sectionId"}).
			WithOperator(filters.ContainsAny).
			WithValueText(sectionIDs...)).
		WithLimit(len(sectionIDs)).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate vectors: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("weaviate vectors error: %s", result.Errors[0].Message)
	}

	for _, obj := range objectsOf(result, w.className) {
		id, _ := obj["sectionId"].(string)
		additional, _ := obj["_additional"].(map[string]interface{})
		raw, _ := additional["vector"].([]interface{})
		if id == "" || len(raw) == 0 {
			continue
		}
		vec := make([]float32, len(raw))
		for i, v := range raw {
			f, _ := v.(float64)
			vec[i] = float32(f)
		}
		out[id] = vec
	}
	return out, nil
}

// MarkDeprecated merges deprecated=true into every object of the document
func (w *WeaviateIndex) MarkDeprecated(ctx context.Context, documentID string) error {
	result, err := w.client.GraphQL().Get().
		WithClassName(w.className).
		WithFields(graphql.Field{Name: "sectionId"}).
		WithWhere(filters.Where().
			WithPath([]string{"documentId"}).
			WithOperator(filters.Equal).
			WithValueText(documentID)).
		WithLimit(10000).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("weaviate lookup %s: %w", documentID, err)
	}

	for _, obj := range objectsOf(result, w.className) {
		sectionID, _ := obj["sectionId"].(string)
		if sectionID == "" {
			continue
		}
		err := w.client.Data().Updater().
			WithClassName(w.className).
			WithID(string(objectID(sectionID))).
			WithProperties(map[string]interface{}{"deprecated": true}).
			WithMerge().
			Do(ctx)
		if err != nil {
			return fmt.Errorf("weaviate deprecate section %s: %w", sectionID, err)
		}
	}
	return nil
}

func objectsOf(result *models.GraphQLResponse, className string) []map[string]interface{} {
	if result == nil || result.Data == nil {
		return nil
	}
	get, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return nil
	}
	items, ok := get[className].([]interface{})
	if !ok {
		return nil
	}

	out := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		if obj, ok := item.(map[string]interface{}); ok {
			out = append(out, obj)
		}
	}
	return out
}

// parseHits converts a GraphQL Get response into hits
func parseHits(result *models.GraphQLResponse, className string) ([]Hit, error) {
	if result == nil || result.Data == nil {
		return nil, fmt.Errorf("weaviate search: empty response")
	}

	var hits []Hit
	for _, obj := range objectsOf(result, className) {
		var h Hit
		h.SectionID, _ = obj["sectionId"].(string)
		h.DocumentID, _ = obj["documentId"].(string)
		h.Header, _ = obj["header"].(string)
		h.Content, _ = obj["content"].(string)
		docType, _ := obj["documentType"].(string)
		h.DocumentType = model.DocumentType(docType)
		if level, ok := obj["authorityLevel"].(float64); ok {
			h.AuthorityLevel = int(level)
		}
		h.Deprecated, _ = obj["deprecated"].(bool)

		if additional, ok := obj["_additional"].(map[string]interface{}); ok {
			if distance, ok := additional["distance"].(float64); ok {
				h.Similarity = 1 - distance
			}
		}
		if h.SectionID == "" {
			continue
		}
		hits = append(hits, h)
	}
	return hits, nil
}
