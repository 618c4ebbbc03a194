package main

import (
	"fmt"
	"log"

	"github.com/system-transparency/siglog-client/pkg/keys"
)

func main() {
	sk, err := keys.Generate()
	if err != nil {
		log.Fatalf("Generate: %v", err)
	}
	fmt.Printf("sk: %x\n", keys.Marshal(sk))
	fmt.Printf("vk: %x\n", keys.Public(sk)[:])
	fmt.Printf("key hash: %x\n", keys.KeyHash(keys.Public(sk))[:])
}
