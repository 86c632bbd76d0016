package avatar

// VideoRequest 生成数字人视频的请求体。
type VideoRequest struct {
	ImageURL string `json:"imageUrl"`
	Text     string `json:"text"`
	Voice    string `json:"voice"`
}

// VideoResponse 生成数字人视频的响应体。
type VideoResponse struct {
	VideoURL string `json:"videoUrl"`
}
