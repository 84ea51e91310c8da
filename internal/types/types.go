package types

type UploadResponse struct {
	FileURL string `json:"fileUrl"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
