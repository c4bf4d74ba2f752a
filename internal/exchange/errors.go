package exchange

import "fmt"

// OpError — единая обертка ошибок вызовов адаптера. В сообщении сразу видна
// упавшая операция; по этому тексту матчится классификатор ретраев движка.
type OpError struct {
	Exchange string
	Op       string
	Err      error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s: failed to %s: %v", e.Exchange, e.Op, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// WrapErr строит *OpError; nil проходит насквозь.
func WrapErr(exchange, op string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Exchange: exchange, Op: op, Err: err}
}
