package converter

// ProductInfoRedisModel представляет закэшированную карточку товара.
type ProductInfoRedisModel struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	CategoryName string `json:"category_name"`
	ImagePath    string `json:"image_path"`
	ModelVersion string `json:"model_version"`
}
