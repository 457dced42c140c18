package msgsock

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouter_Dispatch(t *testing.T) {
	router := NewRouter()
	router.RegisterFunc(7, func(m Message) Message {
		return NewMessage(m.ID(), append([]byte("got: "), m.Body()...))
	})

	resp := router.Dispatch(NewMessage(7, []byte("payload")))
	assert.Equal(t, uint32(7), resp.ID())
	assert.Equal(t, []byte("got: payload"), resp.Body())
}

func TestRouter_Dispatch_NotFound(t *testing.T) {
	router := NewRouter()

	resp := router.Dispatch(NewMessage(999, []byte("anything")))
	assert.Equal(t, NotFoundID, resp.ID())
	assert.Equal(t, []byte("Route not found"), resp.Body())
}

func TestRouter_Register_Replace(t *testing.T) {
	router := NewRouter()
	router.RegisterFunc(1, func(m Message) Message { return NewMessage(1, []byte("old")) })
	router.RegisterFunc(1, func(m Message) Message { return NewMessage(1, []byte("new")) })

	resp := router.Dispatch(NewMessage(1, nil))
	assert.Equal(t, []byte("new"), resp.Body(), "later registration must replace the earlier one")
}

func TestRouter_Register_HandlerInterface(t *testing.T) {
	router := NewRouter()
	router.Register(2, HandlerFunc(func(m Message) Message { return m }))

	resp := router.Dispatch(NewMessage(2, []byte("echo")))
	assert.Equal(t, []byte("echo"), resp.Body())
}

// Registering 1000 distinct ids from many goroutines must lose nothing
// and every handler must answer for its own id.
func TestRouter_ConcurrentRegister(t *testing.T) {
	const ids = 1000
	const workers = 8

	router := NewRouter()

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for id := w; id < ids; id += workers {
				id := uint32(id)
				router.RegisterFunc(id, func(m Message) Message {
					return NewMessage(id, []byte(fmt.Sprintf("handler-%d", id)))
				})
			}
		}(w)
	}
	wg.Wait()

	for id := uint32(0); id < ids; id++ {
		resp := router.Dispatch(NewMessage(id, nil))
		require.Equal(t, id, resp.ID())
		require.Equal(t, []byte(fmt.Sprintf("handler-%d", id)), resp.Body())
	}
}

// Register and Dispatch interleaving arbitrarily must never produce a
// torn read: every dispatch sees either no handler or a complete one.
func TestRouter_ConcurrentRegisterAndDispatch(t *testing.T) {
	router := NewRouter()

	done := make(chan struct{})
	var registerWG sync.WaitGroup
	registerWG.Add(1)
	go func() {
		defer registerWG.Done()
		for i := 0; ; i++ {
			select {
			case <-done:
				return
			default:
				id := uint32(i % 100)
				router.RegisterFunc(id, func(m Message) Message { return NewMessage(id, nil) })
			}
		}
	}()

	var dispatchWG sync.WaitGroup
	for w := 0; w < 4; w++ {
		dispatchWG.Add(1)
		go func() {
			defer dispatchWG.Done()
			for i := 0; i < 10000; i++ {
				id := uint32(i % 100)
				resp := router.Dispatch(NewMessage(id, nil))
				if resp.ID() != id && resp.ID() != NotFoundID {
					t.Errorf("dispatch(%d) returned id %d", id, resp.ID())
					return
				}
			}
		}()
	}

	dispatchWG.Wait()
	close(done)
	registerWG.Wait()
}
