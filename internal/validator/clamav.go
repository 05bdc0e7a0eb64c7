package validator

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"
)

var (
	// ErrMalwareFound — сканер нашёл сигнатуру.
	ErrMalwareFound = errors.New("обнаружена вредоносная сигнатура")
	// ErrScannerUnavailable — clamd недоступен или не ответил вовремя.
	ErrScannerUnavailable = errors.New("антивирусный сканер недоступен")
)

// ClamAVScanner — клиент clamd по протоколу INSTREAM.
type ClamAVScanner struct {
	addr    string
	timeout time.Duration
}

func NewClamAVScanner(addr string, timeout time.Duration) *ClamAVScanner {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ClamAVScanner{addr: addr, timeout: timeout}
}

// Scan отправляет поток в clamd кусками по 8 KiB.
// Формат INSTREAM: 4 байта длины (big endian) + данные, ноль — конец.
func (s *ClamAVScanner) Scan(ctx context.Context, reader io.Reader) error {
	dialer := net.Dialer{Timeout: s.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrScannerUnavailable, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(s.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetDeadline(deadline)

	if _, err := conn.Write([]byte("zINSTREAM\x00")); err != nil {
		return fmt.Errorf("%w: %v", ErrScannerUnavailable, err)
	}

	buf := make([]byte, 8*1024)
	lenPrefix := make([]byte, 4)
	for {
		n, readErr := reader.Read(buf)
		if n > 0 {
			binary.BigEndian.PutUint32(lenPrefix, uint32(n))
			if _, err := conn.Write(lenPrefix); err != nil {
				return fmt.Errorf("%w: %v", ErrScannerUnavailable, err)
			}
			if _, err := conn.Write(buf[:n]); err != nil {
				return fmt.Errorf("%w: %v", ErrScannerUnavailable, err)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return fmt.Errorf("ошибка чтения потока для сканирования: %w", readErr)
		}
	}

	// нулевая длина — конец потока
	binary.BigEndian.PutUint32(lenPrefix, 0)
	if _, err := conn.Write(lenPrefix); err != nil {
		return fmt.Errorf("%w: %v", ErrScannerUnavailable, err)
	}

	response := make([]byte, 512)
	n, err := conn.Read(response)
	if err != nil && err != io.EOF {
		return fmt.Errorf("%w: %v", ErrScannerUnavailable, err)
	}

	reply := string(response[:n])
	if strings.Contains(reply, "FOUND") {
		return ErrMalwareFound
	}
	if !strings.Contains(reply, "OK") {
		return fmt.Errorf("%w: неожиданный ответ %q", ErrScannerUnavailable, reply)
	}
	return nil
}
