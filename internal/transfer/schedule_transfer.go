package transfer

// ContentPayload is the inline content a caller submits when scheduling
// without an existing content item. Every asset is an opaque URL or string
// produced upstream.
type ContentPayload struct {
	Caption     string   `json:"caption"`
	Hashtags    []string `json:"hashtags"`
	Images      []string `json:"images"`
	Carousel    []string `json:"carousel"`
	Story       []string `json:"story"`
	VideoURL    string   `json:"video_url"`
	Inspiration string   `json:"inspiration"`
	Templates   []string `json:"templates"`
	GeneratedBy string   `json:"generated_by"`
}

type ScheduleCreation struct {
	AccountIDs    []string        `json:"account_ids"`
	ScheduledFor  string          `json:"scheduled_for"` // ISO 8601
	Timezone      string          `json:"timezone"`
	RepeatRule    string          `json:"repeat_rule"`
	ContentItemID int64           `json:"content_item_id"`
	Content       *ContentPayload `json:"content"`
}

type BlueskyCredentials struct {
	Handle      string `json:"handle"`
	AppPassword string `json:"app_password"`
	PDSOrigin   string `json:"pds_origin"`
}
