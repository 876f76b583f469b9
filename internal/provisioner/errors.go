package provisioner

import "fmt"

// Этапы провижининга в порядке выполнения.
const (
	StageAccount = "account"
	StageOrg     = "org"
	StageSpace   = "space"
)

// StageError — отказ конкретного этапа провижининга.
// Transient различает временные отказы (подлежат повтору) и постоянные
// (повтор бессмыслен до вмешательства оператора).
type StageError struct {
	// Stage — этап, на котором произошёл отказ (account, org, space)
	Stage string
	// Transient — временный отказ
	Transient bool
	// Err — исходная ошибка провайдера
	Err error
}

func (e *StageError) Error() string {
	kind := "постоянный"
	if e.Transient {
		kind = "временный"
	}
	return fmt.Sprintf("этап %s: %s отказ: %v", e.Stage, kind, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
