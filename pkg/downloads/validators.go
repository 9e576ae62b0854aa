package downloads

type EnqueuePayload struct {
	CatalogID       string  `json:"catalog_id" mod:"trim" validate:"required,catalogid"`
	Title           string  `json:"title" mod:"trim" validate:"max=512"`
	Artist          *string `json:"artist,omitempty" mod:"trim"`
	ThumbnailURL    *string `json:"thumbnail_url,omitempty" validate:"omitempty,url"`
	DestinationPath string  `json:"destination_path,omitempty" mod:"trim"`
	Priority        int     `json:"priority" validate:"min=-100,max=100"`
}

type ListDownloadsQuery struct {
	Status []string `query:"status" json:"status,omitempty" validate:"dive,oneof=pending downloading completed failed paused"`
}
