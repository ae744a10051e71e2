// internal/api/error_codes.go
package api

// API错误代码常量
const (
	// 通用错误
	ErrorBadRequest    = "BAD_REQUEST"
	ErrorNotFound      = "NOT_FOUND"
	ErrorInternalError = "INTERNAL_ERROR"
	ErrorConflict      = "CONFLICT"
	ErrorForbidden     = "FORBIDDEN"

	// 剧本相关错误
	ErrorScriptNotFound   = "SCRIPT_NOT_FOUND"
	ErrorScriptEmpty      = "SCRIPT_EMPTY"
	ErrorParseFailed      = "PARSE_FAILED"
	ErrorParseRetryable   = "PARSE_RETRYABLE"
	ErrorInvalidParseMode = "INVALID_PARSE_MODE"

	// 镜头列表相关错误
	ErrorInvalidShotStyle = "INVALID_SHOT_STYLE"
	ErrorEmptySceneList   = "EMPTY_SCENE_LIST"

	// 分镜生成相关错误
	ErrorBatchNotFound     = "BATCH_NOT_FOUND"
	ErrorBatchRunning      = "BATCH_RUNNING"
	ErrorInvalidShotIndex  = "INVALID_SHOT_INDEX"
	ErrorEmptyModification = "EMPTY_MODIFICATION"
	ErrorContentPolicy     = "CONTENT_POLICY_REJECTED"

	// 用户与配额相关错误
	ErrorUserNotFound  = "USER_NOT_FOUND"
	ErrorQuotaExceeded = "QUOTA_EXCEEDED"

	// LLM服务相关错误
	ErrorLLMServiceUnavailable = "LLM_SERVICE_UNAVAILABLE"
	ErrorLLMConfigInvalid      = "LLM_CONFIG_INVALID"
	ErrorImageConfigInvalid    = "IMAGE_CONFIG_INVALID"
)
