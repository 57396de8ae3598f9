package apmtest

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTimeout: запись по индексу не появилась до истечения таймаута.
	ErrTimeout = errors.New("apmtest: timed out waiting for span")
	// ErrAlreadyRunning: повторный Start без Stop.
	ErrAlreadyRunning = errors.New("apmtest: server is already running")
	// ErrNotRunning: Stop на остановленном сервере.
	ErrNotRunning = errors.New("apmtest: server is not running")
	// ErrInvalidIndex: отрицательный индекс записи.
	ErrInvalidIndex = errors.New("apmtest: invalid span index")
)

// TimeoutError возвращается из GetAndRemove; errors.Is(err, ErrTimeout) == true.
type TimeoutError struct {
	Index   int
	Timeout time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("apmtest: no span at index %d within %s", e.Index, e.Timeout)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}
