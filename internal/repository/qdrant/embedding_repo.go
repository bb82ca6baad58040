package qdrant

import (
	"context"

	"github.com/jimlawless/whereami"
	"github.com/qdrant/go-client/qdrant"
	"github.com/snapshop-tech/go-backend/internal/cfg"
	"github.com/snapshop-tech/go-backend/internal/domain"
	"github.com/snapshop-tech/go-backend/pkg/e"
)

// EmbeddingRepo репозиторий для работы с embedding-векторами в Qdrant
type EmbeddingRepo struct {
	client *qdrant.Client
	cfg    *cfg.QdrantCfg
}

func NewEmbeddingRepo(client *qdrant.Client, cfg *cfg.QdrantCfg) *EmbeddingRepo {
	return &EmbeddingRepo{
		client: client,
		cfg:    cfg,
	}
}

// Upsert сохраняет или обновляет embedding-векторы в указанной коллекции Qdrant.
// ID точек детерминированы, поэтому повторный вызов перезаписывает вектор, а не добавляет новый.
func (q *EmbeddingRepo) Upsert(ctx context.Context, vectors []domain.Embedding) error {
	reqVectors := make([]*qdrant.PointStruct, 0, len(vectors))
	for _, vector := range vectors {
		reqVectors = append(reqVectors, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(vector.ID),
			Vectors: qdrant.NewVectors(vector.Vector...),
			Payload: qdrant.NewValueMap(vector.Payload),
		})
	}

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.cfg.QdrantCollectionName,
		Points:         reqVectors,
	})
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	return nil
}

// ScrollAll постранично выгружает все точки коллекции с векторами и payload.
// Выдача — снимок на момент чтения; консистентность между страницами при
// параллельных записях не гарантируется и ранжированию не требуется.
func (q *EmbeddingRepo) ScrollAll(ctx context.Context) ([]domain.Embedding, error) {
	const pageSize = uint32(512)

	result := make([]domain.Embedding, 0)

	var offset *qdrant.PointId
	for {
		resp, err := q.client.GetPointsClient().Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: q.cfg.QdrantCollectionName,
			Limit:          qdrant.PtrOf(pageSize),
			Offset:         offset,
			WithVectors:    qdrant.NewWithVectors(true),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return nil, e.Wrap(whereami.WhereAmI(), err)
		}

		for _, point := range resp.GetResult() {
			result = append(result, toEmbedding(point))
		}

		offset = resp.GetNextPageOffset()
		if offset == nil {
			break
		}
	}

	return result, nil
}

func toEmbedding(point *qdrant.RetrievedPoint) domain.Embedding {
	return domain.Embedding{
		ID:      point.GetId().GetUuid(),
		Vector:  point.GetVectors().GetVector().GetData(),
		Payload: toPayload(point.GetPayload()),
	}
}

// toPayload конвертирует qdrant-значения в обычную map.
func toPayload(values map[string]*qdrant.Value) domain.Payload {
	payload := make(domain.Payload, len(values))
	for key, value := range values {
		switch v := value.GetKind().(type) {
		case *qdrant.Value_IntegerValue:
			payload[key] = v.IntegerValue
		case *qdrant.Value_DoubleValue:
			payload[key] = v.DoubleValue
		case *qdrant.Value_StringValue:
			payload[key] = v.StringValue
		case *qdrant.Value_BoolValue:
			payload[key] = v.BoolValue
		}
	}

	return payload
}
