package session

import "sync/atomic"

// GenerationState - состояние блокировки генерации сессии.
type GenerationState int32

const (
	StateIdle GenerationState = iota
	StateGenerating
)

func (s GenerationState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateGenerating:
		return "generating"
	default:
		return "unknown"
	}
}

// GenerationLock пропускает в генерацию не более одного вызова за раз.
// Переходы: Idle -> Generating (TryAcquire) и Generating -> Idle (Release).
type GenerationLock struct {
	state atomic.Int32
}

// TryAcquire атомарно переводит Idle -> Generating.
// Возвращает false без изменения состояния, если генерация уже идет.
func (l *GenerationLock) TryAcquire() bool {
	return l.state.CompareAndSwap(int32(StateIdle), int32(StateGenerating))
}

// Release переводит Generating -> Idle. Повторный вызов ничего не делает и возвращает false.
func (l *GenerationLock) Release() bool {
	return l.state.CompareAndSwap(int32(StateGenerating), int32(StateIdle))
}

// State возвращает текущее состояние.
func (l *GenerationLock) State() GenerationState {
	return GenerationState(l.state.Load())
}
