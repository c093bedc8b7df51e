package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/cyberinferno/go-gamenet/client"
	"github.com/cyberinferno/go-gamenet/logger"
	"github.com/cyberinferno/go-gamenet/protocol"
)

func main() {
	tcpAddress := flag.String("tcp", "127.0.0.1:7777", "Server TCP address")
	udpAddress := flag.String("udp", "127.0.0.1:7778", "Server UDP address; empty disables UDP")
	opcode := flag.Uint("opcode", 0x01, "Opcode of the messages to send")
	text := flag.String("text", "hello", "Message body")
	wait := flag.Duration("wait", 2*time.Second, "How long to wait for replies")
	verbose := flag.Bool("v", false, "Log client diagnostics")
	flag.Parse()

	if *opcode > 0xFE {
		fmt.Fprintf(os.Stderr, "opcode must be in [0, 0xFE], got 0x%X\n", *opcode)
		os.Exit(1)
	}

	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}

	log := logger.NewStdoutLogger("gameclient", level)
	defer func() { _ = log.Close() }()

	cfg := client.DefaultConfig(*tcpAddress, *udpAddress)
	cfg.Logger = log

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c, err := client.Dial(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	fmt.Printf("connected, udp id %d\n", c.UDPID())

	op := byte(*opcode)
	if err := c.SendText(op, *text); err != nil {
		fmt.Fprintf(os.Stderr, "TCP send failed: %v\n", err)
	}

	if *udpAddress != "" {
		if err := c.SendUDP(op, []byte(*text)); err != nil {
			fmt.Fprintf(os.Stderr, "UDP send failed: %v\n", err)
		}
	}

	timeout := time.After(*wait)
	for {
		select {
		case msg, ok := <-c.Messages():
			if !ok {
				fmt.Println("connection closed")
				return
			}

			printMessage(msg)
		case <-timeout:
			return
		}
	}
}

func printMessage(msg protocol.Message) {
	if msg.Opcode() == protocol.OpControl && msg.Len() > 0 {
		switch msg.Payload()[0] {
		case protocol.ControlStopping:
			fmt.Println("server is stopping")
			return
		case protocol.ControlDisconnect:
			fmt.Println("disconnected by server")
			return
		}
	}

	fmt.Printf("[%s] opcode 0x%02X: %q\n", msg.Transport(), msg.Opcode(), msg.Text())
}
