package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/aravinth/pollkv/internal/client"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:1234", "Server address host:port")
	timeout := flag.Duration("timeout", 5*time.Second, "Connect and per-request timeout (0 = none)")
	flag.Parse()

	c, err := client.Dial(*addr, *timeout)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer c.Close()

	// One-shot mode: kvcli get key
	if flag.NArg() > 0 {
		v, err := c.Do(flag.Args()...)
		if err != nil {
			log.Fatalf("%v", err)
		}
		fmt.Println(v)
		return
	}

	interactive := isTerminal(os.Stdin)
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 32<<20)
	for {
		if interactive {
			fmt.Printf("%s> ", *addr)
		}
		if !scanner.Scan() {
			break
		}
		args := strings.Fields(scanner.Text())
		if len(args) == 0 {
			continue
		}
		if args[0] == "quit" || args[0] == "exit" {
			return
		}

		v, err := c.Do(args...)
		if err != nil {
			log.Fatalf("%v", err)
		}
		fmt.Println(v)
	}
	if err := scanner.Err(); err != nil {
		log.Fatalf("read input: %v", err)
	}
}

func isTerminal(f *os.File) bool {
	st, err := f.Stat()
	if err != nil {
		return false
	}
	return st.Mode()&os.ModeCharDevice != 0
}
