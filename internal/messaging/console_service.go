package messaging

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/logx"
	"github.com/BTreeMap/LeadPipe/internal/models"
)

// DefaultConsolePhone identifies the lead typing on the console.
const DefaultConsolePhone = "+10000000000"

// ConsoleService reads lead messages line by line from an io.Reader and prints
// replies to an io.Writer. Reaching the end of input stops the service.
type ConsoleService struct {
	in        io.Reader
	out       io.Writer
	phone     string
	responses chan models.Inbound
	mu        sync.RWMutex
	writeMu   sync.Mutex
	stopped   bool
}

var _ Service = (*ConsoleService)(nil)

// NewConsoleService creates a console transport for phone. An empty phone
// means DefaultConsolePhone.
func NewConsoleService(in io.Reader, out io.Writer, phone string) *ConsoleService {
	if phone == "" {
		phone = DefaultConsolePhone
	}
	return &ConsoleService{
		in:        in,
		out:       out,
		phone:     phone,
		responses: make(chan models.Inbound),
	}
}

func (s *ConsoleService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return CanonicalizePhone(recipient)
}

// Start reads input in the background. Blank lines are skipped.
func (s *ConsoleService) Start(ctx context.Context) error {
	go func() {
		defer s.Stop()
		scanner := bufio.NewScanner(s.in)
		for scanner.Scan() {
			if ctx.Err() != nil {
				return
			}
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if !s.emit(ctx, models.Inbound{From: s.phone, Body: line, Time: time.Now().Unix()}) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			logx.Error().Err(err).Msg("ConsoleService input error")
		}
	}()
	return nil
}

func (s *ConsoleService) emit(ctx context.Context, in models.Inbound) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return false
	}
	select {
	case s.responses <- in:
		return true
	case <-ctx.Done():
		return false
	}
}

// Stop closes Responses. It is safe to call twice.
func (s *ConsoleService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.responses)
	return nil
}

// SendMessage prints body. Replies still print after input ends so the last
// turn is not lost.
func (s *ConsoleService) SendMessage(ctx context.Context, to string, body string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := fmt.Fprintf(s.out, "LeadPipe: %s\n", body)
	return err
}

func (s *ConsoleService) Responses() <-chan models.Inbound {
	return s.responses
}
