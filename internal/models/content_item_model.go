package models

import "time"

const ContentStatusGenerated = "generated"

// ContentAssets is the fixed set of asset fields a content item can carry.
// Generation happens upstream; every field is an opaque URL or string.
type ContentAssets struct {
	Caption     string   `json:"caption,omitempty"`
	Hashtags    []string `json:"hashtags,omitempty"`
	Images      []string `json:"images,omitempty"`
	Carousel    []string `json:"carousel,omitempty"`
	Story       []string `json:"story,omitempty"`
	VideoURL    string   `json:"video_url,omitempty"`
	Inspiration string   `json:"inspiration,omitempty"`
	Templates   []string `json:"templates,omitempty"`
}

// PreviewURL picks a representative asset: first image, then first carousel
// slide, then first story slide, then the video.
func (a ContentAssets) PreviewURL() string {
	if len(a.Images) > 0 {
		return a.Images[0]
	}
	if len(a.Carousel) > 0 {
		return a.Carousel[0]
	}
	if len(a.Story) > 0 {
		return a.Story[0]
	}
	return a.VideoURL
}

type ContentItem struct {
	ID          int64         `db:"id" json:"id"`
	UserID      int64         `db:"user_id" json:"user_id"`
	ContentType string        `db:"content_type" json:"content_type"`
	Status      string        `db:"status" json:"status"`
	Assets      ContentAssets `db:"assets" json:"assets"`
	PreviewURL  string        `db:"preview_url" json:"preview_url"`
	GeneratedBy string        `db:"generated_by" json:"generated_by"`
	CreatedAt   time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time     `db:"updated_at" json:"updated_at"`
}
