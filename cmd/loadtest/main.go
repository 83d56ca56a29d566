// Command loadtest opens many relay connections across a set of rooms, has
// every connection chat, and reports how many broadcasts came back.
package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"go-relay/internal/app"
)

type counters struct {
	connected  atomic.Int64
	failed     atomic.Int64
	sent       atomic.Int64
	chats      atomic.Int64
	memberList atomic.Int64
}

type loadOpts struct {
	URL      string
	Token    string
	Clients  int
	Rooms    int
	Messages int
	Interval time.Duration
	Settle   time.Duration
}

func main() {
	var o loadOpts
	cliApp := &cli.App{
		Name:  "loadtest",
		Usage: "stress a running chat relay",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Value: "ws://localhost:8080/ws", EnvVars: []string{"RELAY_URL"}, Destination: &o.URL},
			&cli.StringFlag{Name: "token", Usage: "bearer token when the relay gates /ws", EnvVars: []string{"RELAY_TOKEN"}, Destination: &o.Token},
			&cli.IntFlag{Name: "clients", Value: 500, Destination: &o.Clients},
			&cli.IntFlag{Name: "rooms", Value: 50, Destination: &o.Rooms},
			&cli.IntFlag{Name: "messages", Usage: "messages per client", Value: 20, Destination: &o.Messages},
			&cli.DurationFlag{Name: "interval", Value: 10 * time.Millisecond, Destination: &o.Interval},
			&cli.DurationFlag{Name: "settle", Usage: "how long to keep reading after the last send", Value: 2 * time.Second, Destination: &o.Settle},
		},
		Action: func(c *cli.Context) error {
			return run(o, app.NewLogger("dev", "loadtest", app.CommitHash()))
		},
	}
	if err := cliApp.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(o loadOpts, log zerolog.Logger) error {
	if o.Clients <= 0 || o.Rooms <= 0 {
		return fmt.Errorf("clients and rooms must be positive")
	}
	log.Info().Int("clients", o.Clients).Int("rooms", o.Rooms).Int("messages", o.Messages).Msg("starting load test")

	var (
		c     counters
		wg    sync.WaitGroup
		ready sync.WaitGroup
		start = make(chan struct{})
	)
	begin := time.Now()
	for i := 0; i < o.Clients; i++ {
		wg.Add(1)
		ready.Add(1)
		go func(id int) {
			defer wg.Done()
			runClient(o, id, &c, &ready, start, log)
		}(i)
	}

	// Everyone joins before anyone chats so the expected count is exact.
	ready.Wait()
	close(start)
	wg.Wait()

	expected := expectedDeliveries(o, int(c.connected.Load()))
	log.Info().
		Int64("connected", c.connected.Load()).
		Int64("failed", c.failed.Load()).
		Int64("sent", c.sent.Load()).
		Int64("chat_received", c.chats.Load()).
		Int64("expected", expected).
		Int64("member_lists", c.memberList.Load()).
		Dur("elapsed", time.Since(begin)).
		Msg("load test complete")
	return nil
}

func roomFor(id, rooms int) string {
	return fmt.Sprintf("load-%d", id%rooms)
}

// expectedDeliveries assumes connected clients are spread round-robin
// across rooms and every one of them sent all of its messages.
func expectedDeliveries(o loadOpts, connected int) int64 {
	var total int64
	for r := 0; r < o.Rooms; r++ {
		n := int64(connected / o.Rooms)
		if r < connected%o.Rooms {
			n++
		}
		total += n * n * int64(o.Messages)
	}
	return total
}

func dialURL(o loadOpts, room string) (string, error) {
	u, err := url.Parse(o.URL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("roomId", room)
	if o.Token != "" {
		q.Set("token", o.Token)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func runClient(o loadOpts, id int, c *counters, ready *sync.WaitGroup, start <-chan struct{}, log zerolog.Logger) {
	room := roomFor(id, o.Rooms)
	target, err := dialURL(o, room)
	if err != nil {
		c.failed.Add(1)
		ready.Done()
		log.Error().Err(err).Msg("bad url")
		return
	}

	conn, _, err := websocket.DefaultDialer.Dial(target, nil)
	if err != nil {
		c.failed.Add(1)
		ready.Done()
		log.Warn().Err(err).Int("client", id).Msg("connect failed")
		return
	}
	defer conn.Close()
	c.connected.Add(1)
	ready.Done()

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var f struct {
				Type string `json:"type"`
			}
			if json.Unmarshal(data, &f) != nil {
				continue
			}
			if f.Type == "memberList" {
				c.memberList.Add(1)
			} else {
				c.chats.Add(1)
			}
		}
	}()

	<-start
	for i := 0; i < o.Messages; i++ {
		msg := map[string]string{
			"type": "chat",
			"text": fmt.Sprintf("load test msg %d from client %d", i, id),
		}
		if err := conn.WriteJSON(msg); err != nil {
			log.Warn().Err(err).Int("client", id).Msg("send failed")
			break
		}
		c.sent.Add(1)
		time.Sleep(o.Interval)
	}

	conn.SetReadDeadline(time.Now().Add(o.Settle))
	<-readerDone
}
