package track

import "fmt"

// 文档注释：文件级格式错误
// 背景：根元素不符、XML 信封损坏、CSV 缺少必需列等情况下整个文件失败，不做部分加载。
type FormatError struct {
	Path   string
	Format string
	Reason string
	Err    error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: invalid %s file: %s: %v", e.Path, e.Format, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: invalid %s file: %s", e.Path, e.Format, e.Reason)
}

func (e *FormatError) Unwrap() error { return e.Err }

// FieldError：单点/单行字段缺失或无法解析，该点被跳过，解析继续
type FieldError struct {
	Field string
	Value string
	Err   error
}

func (e *FieldError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("bad %s %q: %v", e.Field, e.Value, e.Err)
	}
	return fmt.Sprintf("missing %s", e.Field)
}

func (e *FieldError) Unwrap() error { return e.Err }
