// Package discovery announces wbemd on the local network and finds other
// WBEM servers using multicast DNS.
//
// A running server registers one "_wbem._tcp" service per HTTP listener and
// one "_wbems._tcp" service per HTTPS listener. Each announcement carries the
// TXT attributes a WBEM client expects from a service agent:
//
//	template-type=wbem
//	communication-mechanism=CIM-XML
//	protocol-version=1.0
//
// Scan browses both service types at once and merges the answers:
//
//	services, err := discovery.Scan(ctx, 3*time.Second)
//	if err != nil {
//		return err
//	}
//	for _, svc := range services {
//		fmt.Println(svc.URL())
//	}
//
// Answers only arrive from the local link, so UDP port 5353 must be open
// and the interface must have multicast enabled.
package discovery
