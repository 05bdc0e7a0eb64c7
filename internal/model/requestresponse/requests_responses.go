package requestresponse

import "pdf-pipeline-server/internal/model"

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type UploadFileResponse struct {
	File *model.File `json:"file"`
}

type ProcessFileRequest struct {
	ToolID string         `json:"tool_id"`
	Params map[string]any `json:"params,omitempty"`
}

type ProcessFileResponse struct {
	Job *model.Job `json:"job"`
}

type DownloadResponse struct {
	URL string `json:"url"`
}

type FileHistoryResponse struct {
	History []model.FileStateLog `json:"history"`
}

type FileVersionsResponse struct {
	Versions []model.FileVersion `json:"versions"`
}

type JobListResponse struct {
	Jobs []model.Job `json:"jobs"`
}

type ToolListResponse struct {
	Tools []*model.Tool `json:"tools"`
}

type QueueStatsResponse struct {
	Stats map[string]any `json:"stats"`
}

type CleanupResponse struct {
	Expired int   `json:"expired,omitempty"`
	Reaped  int   `json:"reaped,omitempty"`
	Pruned  int64 `json:"pruned,omitempty"`
	Reset   int64 `json:"reset,omitempty"`
}

type QuotaRecomputeResponse struct {
	UserUUID   string `json:"user_uuid"`
	UsedBytes  int64  `json:"used_bytes"`
	Recomputed bool   `json:"recomputed"`
}
