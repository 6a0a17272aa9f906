package models

type ProgressStream string

const (
	StreamUpload   ProgressStream = "onUploadFilesAsyncProgress"
	StreamDownload ProgressStream = "onDownloadFilesAsyncProgress"
)

func StreamFor(direction Direction) ProgressStream {
	if direction == DirectionUpload {
		return StreamUpload
	}
	return StreamDownload
}

// ProgressEvent is the payload of both progress streams. Value is in [0,100].
type ProgressEvent struct {
	Stream ProgressStream `json:"-"`
	Value  float64        `json:"value"`
}
