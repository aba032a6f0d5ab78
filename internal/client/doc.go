/*
Package client is the consuming side of the chat protocol.

Manager owns the socket. It connects on Start, reconnects at a constant
interval after unexpected closes until the attempt budget is spent, and
resets the budget on every successful connection. Disconnect halts
reconnection until the next Connect; Stop silences the manager for good.

Assembler turns the decoded events into a conversation log. Replies are
keyed by request id, so a reset or a second in-flight request never merges
text into the wrong message.

	conv := client.NewAssembler()
	opts := client.DefaultOptions("ws://localhost:8080/ws")
	opts.OnEvent = conv.Apply
	opts.OnDisconnect = conv.OnDisconnect

	mgr := client.NewManager(opts)
	mgr.Start()
	defer mgr.Stop()

	conv.AddUser(text)
	mgr.Send(text)
*/
package client
