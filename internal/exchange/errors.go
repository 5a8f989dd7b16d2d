package exchange

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Классы ошибок источника данных, проверяются через errors.Is
var (
	// ErrDataUnavailable у источника нет данных по символу/таймфрейму
	ErrDataUnavailable = errors.New("нет данных")
	// ErrUnsupportedSymbol инструмент отсутствует во вселенной источника
	ErrUnsupportedSymbol = errors.New("инструмент не поддерживается")
	// ErrTransient повторяемая ошибка: лимит запросов, таймаут, временная недоступность
	ErrTransient = errors.New("временная ошибка источника")
	// ErrFetch неисправимая ошибка ответа
	ErrFetch = errors.New("ошибка получения данных")
	// ErrUnrecognizedPayload ответ не подходит ни под одну известную форму
	ErrUnrecognizedPayload = fmt.Errorf("%w: неизвестный формат ответа", ErrFetch)
)

// StatusError HTTP-ответ с кодом ошибки
type StatusError struct {
	Status int
	URL    string
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d от %s: %s", e.Status, e.URL, e.Body)
}

// Unwrap относит статус к классу ошибки
func (e *StatusError) Unwrap() error {
	if retryableStatus(e.Status) {
		return ErrTransient
	}
	return ErrFetch
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// classifyTransport переводит сетевую ошибку в класс: таймаут и обрыв соединения повторяемы
func classifyTransport(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	// Отмена снаружи не повторяется
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return fmt.Errorf("%w: %v", ErrFetch, err)
}
