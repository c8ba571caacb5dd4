// Package contagem is the counter domain carried through the queue: the API
// increments a counter and publishes the result, and the worker stores each
// result it receives.
package contagem

import (
	goruntime "runtime"
	"sync/atomic"
)

// DefaultMensagem is stamped on every Resultado unless configured otherwise.
const DefaultMensagem = "Contagem enviada via fila"

// Resultado is the payload exchanged through the queue. JSON keys are the
// field names.
type Resultado struct {
	ValorAtual int64
	Producer   string
	Kernel     string
	Framework  string
	Mensagem   string
}

// Contador is a goroutine-safe monotonically increasing counter.
type Contador struct {
	valor atomic.Int64
}

// Incrementar adds one and returns the new value.
func (c *Contador) Incrementar() int64 {
	return c.valor.Add(1)
}

// ValorAtual returns the current value.
func (c *Contador) ValorAtual() int64 {
	return c.valor.Load()
}

func kernel() string {
	return goruntime.GOOS + "/" + goruntime.GOARCH
}

func framework() string {
	return goruntime.Version()
}
