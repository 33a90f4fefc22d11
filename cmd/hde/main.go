// Command hde runs a LoRa messaging node and talks to running nodes over their HTTP API.
package main

func main() {
	Execute()
}
