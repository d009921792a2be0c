// Command qrxfer sends and receives files as sequences of QR symbols.
package main

func main() {
	Execute()
}
