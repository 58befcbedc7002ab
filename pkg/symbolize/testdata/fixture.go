package main

import "fmt"

func resolveMe(n int) int {
	return n*2 + 1
}

func main() {
	fmt.Println(resolveMe(20))
}
