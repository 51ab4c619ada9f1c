// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"go.bug.st/serial"

	"github.com/Thermoquad/provisor/pkg/console"
	"github.com/Thermoquad/provisor/pkg/tfp"
)

// passwordEnv holds the WebSocket bridge password
const passwordEnv = "PROVISOR_PASSWORD"

// Connection is a byte transport carrying stuffed frames
type Connection interface {
	io.ReadWriteCloser
}

// ErrConnectionClosed is returned when reading from a closed WebSocket bridge
var ErrConnectionClosed = errors.New("websocket connection closed")

// wsBridge streams binary WebSocket messages as one byte stream. Frames may
// span messages; the frame decoder downstream does the splitting.
type wsBridge struct {
	conn *websocket.Conn

	readMu sync.Mutex
	cur    io.Reader
	err    error

	writeMu sync.Mutex
}

func (w *wsBridge) Read(p []byte) (int, error) {
	w.readMu.Lock()
	defer w.readMu.Unlock()

	for {
		if w.err != nil {
			return 0, w.err
		}
		if w.cur != nil {
			n, err := w.cur.Read(p)
			if err == io.EOF {
				w.cur = nil
				if n > 0 {
					return n, nil
				}
				continue
			}
			return n, err
		}

		kind, r, err := w.conn.NextReader()
		if err != nil {
			w.err = errors.Join(ErrConnectionClosed, err)
			return 0, w.err
		}
		// Text messages are bridge status lines, not frames
		if kind == websocket.BinaryMessage {
			w.cur = r
		}
	}
}

func (w *wsBridge) Write(p []byte) (int, error) {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *wsBridge) Close() error {
	w.writeMu.Lock()
	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	w.writeMu.Unlock()
	return w.conn.Close()
}

// openSerial opens the controller's USB serial port
func openSerial(name string, baud int) (Connection, error) {
	port, err := serial.Open(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", name, err)
	}
	return port, nil
}

// openWebSocket dials a serial-over-WebSocket bridge with optional HTTP Basic auth
func openWebSocket(ctx context.Context, rawURL, username, password string, skipVerify bool) (Connection, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: skipVerify}
	}

	headers := http.Header{}
	if username != "" {
		headers.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(username+":"+password)))
	}

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	conn, resp, err := dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}
	return &wsBridge{conn: conn}, nil
}

// bridgePassword reads the bridge password from the environment, or asks for it
func bridgePassword(ctx context.Context) (string, error) {
	if pw := os.Getenv(passwordEnv); pw != "" {
		return pw, nil
	}
	pw, err := console.New(os.Stdin, os.Stderr).PromptSecret(ctx, "Password", false)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return pw, nil
}

// OpenLink opens a packet link based on the connection flags: raw packets
// over TCP, or stuffed frames over serial and WebSocket.
func OpenLink(ctx context.Context, stats *tfp.Statistics, log zerolog.Logger) (tfp.PacketConn, string, error) {
	framed := func(conn Connection) tfp.PacketConn {
		return tfp.NewFramedConn(conn, tfp.WithFrameErrorHandler(func(err error) {
			stats.FrameErrors.Inc()
			log.Debug().Err(err).Msg("frame dropped")
		}))
	}

	switch {
	case hostAddr != "":
		conn, err := tfp.DialStream(ctx, hostAddr)
		if err != nil {
			return nil, "", err
		}
		return conn, "TCP: " + hostAddr, nil

	case wsURL != "":
		var password string
		if wsUsername != "" {
			var err error
			if password, err = bridgePassword(ctx); err != nil {
				return nil, "", err
			}
		}
		conn, err := openWebSocket(ctx, wsURL, wsUsername, password, wsNoSSLVerify)
		if err != nil {
			return nil, "", err
		}
		return framed(conn), "WebSocket: " + wsURL, nil

	case portName != "":
		conn, err := openSerial(portName, baudRate)
		if err != nil {
			return nil, "", err
		}
		return framed(conn), fmt.Sprintf("Serial: %s @ %d baud", portName, baudRate), nil
	}
	return nil, "", errors.New("one of --host, --port or --url must be specified")
}

// OpenClient opens a link and starts a protocol client on it
func OpenClient(ctx context.Context) (*tfp.Client, string, error) {
	stats := tfp.NewStatistics()
	log := logger.With().Str("component", "tfp").Logger()
	conn, info, err := OpenLink(ctx, stats, log)
	if err != nil {
		return nil, "", err
	}
	client := tfp.NewClient(conn,
		tfp.WithLogger(log),
		tfp.WithTimeout(station.CallTimeout),
		tfp.WithStatistics(stats),
	)
	return client, info, nil
}
