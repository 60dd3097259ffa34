package realtime

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/igm/sockjs-go/sockjs"
)

func TestSockJSFraming(t *testing.T) {
	sessions := make(chan sockjs.Session, 1)
	handler := sockjs.NewHandler("/realtime", sockjs.DefaultOptions, func(session sockjs.Session) {
		sessions <- session
		for {
			if _, err := session.Recv(); err != nil {
				return
			}
		}
	})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	ch := newTestChannel(t, Options{
		URL:     "ws" + strings.TrimPrefix(srv.URL, "http") + "/realtime",
		Framing: FramingSockJS,
	})
	events := collect(ch)
	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	var session sockjs.Session
	select {
	case session = <-sessions:
	case <-time.After(2 * time.Second):
		t.Fatalf("no sockjs session")
	}

	_ = session.Send(`{"event":"TOKEN_CREATED","token_id":"t9"}`)
	_ = session.Send(`garbage`)
	_ = session.Send(`{"event":"TOKEN_STATUS_UPDATED","token_id":"t9"}`)

	expectEvent(t, events, "TOKEN_CREATED")
	expectEvent(t, events, "TOKEN_STATUS_UPDATED")
	expectNoEvent(t, events)

	_ = session.Close(3000, "bye")
	waitState(t, ch, StateDisconnected)
}
