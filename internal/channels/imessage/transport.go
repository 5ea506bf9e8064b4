package imessage

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/exec"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// stdioTransport runs `imsg rpc` and exchanges newline-delimited JSON over
// its stdin/stdout. Stderr lines are logged.
type stdioTransport struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	logger *slog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
	exited    chan struct{}
}

// StartStdio spawns cliPath with the rpc subcommand.
func StartStdio(cliPath, dbPath string, logger *slog.Logger) (Transport, error) {
	if cliPath == "" {
		cliPath = "imsg"
	}
	if logger == nil {
		logger = slog.Default()
	}
	args := []string{"rpc"}
	if dbPath != "" {
		args = append(args, "--db", dbPath)
	}
	cmd := exec.Command(cliPath, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("imsg stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("imsg stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("imsg stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s rpc: %w", cliPath, err)
	}

	t := &stdioTransport{
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewReaderSize(stdout, 64*1024),
		logger: logger,
		exited: make(chan struct{}),
	}
	go func() {
		sc := bufio.NewScanner(stderr)
		for sc.Scan() {
			if line := bytes.TrimSpace(sc.Bytes()); len(line) > 0 {
				logger.Warn("imsg rpc stderr", "line", string(line))
			}
		}
	}()
	go func() {
		err := cmd.Wait()
		if err != nil {
			logger.Debug("imsg rpc exited", "error", err)
		}
		close(t.exited)
	}()
	return t, nil
}

func (t *stdioTransport) ReadFrame(_ context.Context) ([]byte, error) {
	line, err := t.stdout.ReadBytes('\n')
	if len(line) > 0 {
		// A read error after a partial line surfaces on the next call.
		return bytes.TrimSpace(line), nil
	}
	return nil, err
}

func (t *stdioTransport) WriteFrame(_ context.Context, data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := t.stdin.Write(append(data, '\n')); err != nil {
		return err
	}
	return nil
}

// Close ends stdin, then kills the process if it has not exited within 2s.
func (t *stdioTransport) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.stdin.Close()
		select {
		case <-t.exited:
		case <-time.After(2 * time.Second):
			if t.cmd.Process != nil {
				_ = t.cmd.Process.Kill()
			}
			<-t.exited
		}
	})
	return t.closeErr
}

// wsTransport talks to a remote bridge over WebSocket text frames.
type wsTransport struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// DialBridge connects to a WebSocket bridge, sending token as a bearer header.
func DialBridge(ctx context.Context, url, token string) (Transport, error) {
	headers := http.Header{}
	if token != "" {
		headers.Set("Authorization", "Bearer "+token)
	}
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		return nil, fmt.Errorf("imessage: bridge dial: %w", err)
	}
	conn.SetReadLimit(4 << 20)
	return &wsTransport{conn: conn}, nil
}

func (t *wsTransport) ReadFrame(ctx context.Context) ([]byte, error) {
	_, data, err := t.conn.Read(ctx)
	return data, err
}

// WriteFrame sends a text message. Thread-safe.
func (t *wsTransport) WriteFrame(ctx context.Context, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn.Write(ctx, websocket.MessageText, data)
}

func (t *wsTransport) Close() error {
	err := t.conn.Close(websocket.StatusNormalClosure, "")
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		return nil
	}
	return err
}
