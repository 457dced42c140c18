// Command echoclient sends one framed message to a msgsock server and
// prints the response.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/Zereker/msgsock"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:7000", "server address")
	id := flag.Uint("id", 1, "message id to send")
	body := flag.String("body", "hello", "message payload")
	flag.Parse()

	conn, err := msgsock.Dial(*addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "echoclient: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	msg := msgsock.NewMessage(uint32(*id), []byte(*body))
	if err := conn.WriteMessage(msg); err != nil {
		fmt.Fprintf(os.Stderr, "echoclient: send: %v\n", err)
		os.Exit(1)
	}

	resp, err := conn.ReadMessage()
	if err != nil {
		fmt.Fprintf(os.Stderr, "echoclient: receive: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("id=%d body=%q\n", resp.ID(), resp.Body())
}
