package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"board-service/domain"
	"board-service/testutil"
)

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

// ws-load opens WS_CONNECTIONS sessions on BOARD_ID, has each one edit its own
// note every EDIT_INTERVAL_MS and counts the broadcasts received.
func main() {
	baseURL := getenv("WS_URL", "ws://localhost:8080/ws")
	boardID := getenv("BOARD_ID", "load-board")
	conns := getenvInt("WS_CONNECTIONS", 50)
	duration := time.Duration(getenvInt("DURATION_SEC", 60)) * time.Second
	interval := time.Duration(getenvInt("EDIT_INTERVAL_MS", 500)) * time.Millisecond

	var received, sent, failures uint64

	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(conns)
	for i := range conns {
		go func(i int) {
			defer wg.Done()
			userID := fmt.Sprintf("load-user-%d", i)
			token, err := testutil.TokenFromEnv(userID)
			if err != nil {
				log.Fatalf("token: %v", err)
			}
			u, err := url.Parse(baseURL)
			if err != nil {
				log.Fatalf("WS_URL: %v", err)
			}
			q := u.Query()
			q.Set("boardId", boardID)
			q.Set("access_token", token)
			u.RawQuery = q.Encode()

			conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
			if err != nil {
				atomic.AddUint64(&failures, 1)
				return
			}
			defer conn.Close()

			go func() {
				<-ctx.Done()
				_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				conn.Close()
			}()
			go func() {
				for {
					if _, _, err := conn.ReadMessage(); err != nil {
						return
					}
					atomic.AddUint64(&received, 1)
				}
			}()

			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			noteID := fmt.Sprintf("note-%d", i)
			for n := 0; ; n++ {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
				}
				content := fmt.Sprintf("%s edit %d", userID, n)
				payload, err := domain.EncodeMessage(domain.Message{Type: domain.NewNoteOrEdit, NoteID: noteID, Content: &content})
				if err != nil {
					log.Fatalf("encode: %v", err)
				}
				if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
					atomic.AddUint64(&failures, 1)
					return
				}
				atomic.AddUint64(&sent, 1)
			}
		}(i)
	}
	wg.Wait()

	sentVal := atomic.LoadUint64(&sent)
	receivedVal := atomic.LoadUint64(&received)
	failuresVal := atomic.LoadUint64(&failures)
	fmt.Printf("connections=%d duration_sec=%d edits_sent=%d messages_received=%d failures=%d\n",
		conns, int(duration.Seconds()), sentVal, receivedVal, failuresVal)
	if receivedVal == 0 || float64(failuresVal) > float64(conns)*0.01 {
		os.Exit(1)
	}
}
