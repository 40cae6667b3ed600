// Package client sends CIM-XML requests to a server through the transport
// connector and decodes the responses.
//
// A Client owns one outbound connection and a private monitor loop. Do
// writes a complete request and waits for the matching response. When the
// connection was closed or the server sent data nobody asked for, Do
// reconnects once before writing.
//
// Usage:
//
//	c, err := client.Dial(ctx, transport.Target{Host: "localhost", Port: 5988})
//	if err != nil {
//		return err
//	}
//	defer c.Close()
//
//	req := client.Request{Host: "localhost", Method: "EnumerateInstances", Object: "root/cimv2", Body: body}
//	resp, err := c.Do(ctx, req.Build())
//	if err != nil {
//		return err
//	}
//	summary, err := client.Summarize(resp)
//	if err != nil {
//		return err
//	}
//	fmt.Println(summary.StatusCode, summary.CIMError)
//
// A response whose chunk trailer carries CIMError is reported with status
// 400 even when its status line said 200.
package client
