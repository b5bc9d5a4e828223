/*
Package client provides a typed Go client for the broker HTTP API.

The client wraps every route with a method that marshals the request,
sets the Authorization header, and decodes the JSON response into the
shared types. Each call carries its own 10 second deadline, so a hung
broker never wedges the caller.

# Usage

	c := client.New("http://broker:4000", apiKey)

	inst, err := c.Assign("web-echo", "u1")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("connect to port %d\n", inst.ExternalPort)

Polling until the broker is ready:

	for c.Ready() != nil {
		time.Sleep(time.Second)
	}

# Errors

Non-2xx responses decode into *Error, which keeps the HTTP status and
the server's error message. The predicates cover the statuses callers
branch on:

	inst, err := c.InstanceForUser("u1")
	switch {
	case client.IsNotFound(err):
		// no assignment
	case client.IsForbidden(err):
		// wrong key, foreign reset target, or double assign
	case err != nil:
		// transport or server failure
	}

Transport failures (refused connection, timeout) surface as wrapped
errors from net/http, not *Error.

# Thread Safety

A Client holds only immutable fields and the stdlib http.Client, so
one instance may be shared across goroutines.
*/
package client
