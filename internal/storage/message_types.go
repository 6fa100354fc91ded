package storage

import "time"

// ResumeUploadedMessage 简历上传事件，由上传接口发布、异步处理消费者消费
type ResumeUploadedMessage struct {
	ResumeID            string    `json:"resume_id"`
	UploadTimestamp     time.Time `json:"upload_timestamp"`
	OriginalFilename    string    `json:"original_filename"`
	OriginalFilePathOSS string    `json:"original_file_path_oss"` // MinIO中的对象键
	RawFileMD5          string    `json:"raw_file_md5,omitempty"` // 原始文件MD5，处理失败时用于回滚去重记录
	Reprocess           bool      `json:"reprocess,omitempty"`    // 为true时跳过内容去重，强制重新抽取
}
