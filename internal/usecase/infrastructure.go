package usecase

import "context"

type MlServiceInfra interface {
	EnsureReady(ctx context.Context) error
	Vectorize(ctx context.Context, req *VectorizeReq) (*VectorizeRes, error)
}

type ImagesInfra interface {
	// ObjectKey детерминированно выводит ключ объекта из имени файла:
	// повторная загрузка того же файла попадает в тот же image_path.
	ObjectKey(image ProductImage) (string, error)
	UploadImage(ctx context.Context, key string, image ProductImage) error
	FetchImage(ctx context.Context, key string) ([]byte, error)
	// ResolveImageURL возвращает отображаемый URL изображения.
	// Никогда не завершается ошибкой: при отсутствии объекта подставляется заглушка.
	ResolveImageURL(ctx context.Context, key string) string
	CleanupImages(keys []string)
}

type MessageProducer interface {
	WriteRawMessage(ctx context.Context, req *WriteRawMessageReq) error
}

type RegenRunner interface {
	Run(ctx context.Context) *RegenJobRes
}
