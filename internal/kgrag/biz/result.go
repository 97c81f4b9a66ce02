package biz

// Status 子系统调用结果状态。
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
)

// Result 携带子系统调用结果。降级时 Data 为零值，Reason 说明原因。
type Result[T any] struct {
	Data   T
	Status Status
	Reason string
}

// Ok 返回成功结果。
func Ok[T any](data T) Result[T] {
	return Result[T]{Data: data, Status: StatusOK}
}

// Degraded 返回降级结果。
func Degraded[T any](reason string) Result[T] {
	return Result[T]{Status: StatusDegraded, Reason: reason}
}

// IsDegraded 报告结果是否降级。
func (r Result[T]) IsDegraded() bool {
	return r.Status == StatusDegraded
}
