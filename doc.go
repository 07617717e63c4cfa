// Package minisftp is a small SFTP version 3 client with SSH password
// authentication.
//
// The package is layered:
//   - Pack and Unpack encode and decode the SSH wire primitives
//   - UserAuthPassword and RetryPassword drive password authentication
//     over any MessageTransport
//   - Session runs the SFTP handshake over a subsystem Channel and opens,
//     reads, writes and closes remote files, one request at a time
//   - Client, ConnectionPool and Syncer put a dialed golang.org/x/crypto/ssh
//     connection underneath a Session for everyday use
//
// NewClient authenticates through golang.org/x/crypto/ssh's own user
// authentication, which retries the PasswordPrompt up to
// Config.MaxAuthAttempts times. UserAuthPassword and RetryPassword serve
// callers that hold a MessageTransport themselves, such as one built with
// NewPlainTransport.
//
// # Basic Usage
//
// Create a client and upload a file:
//
//	config := minisftp.Config{
//		Host:           "example.com",
//		User:           "deploy",
//		Password:       os.Getenv("SFTP_PASSWORD"),
//		KnownHostsFile: "~/.ssh/known_hosts",
//	}
//
//	client, err := minisftp.NewClient(config)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.UploadFile(ctx, "/local/path/file.txt", "/remote/path/file.txt")
//
// # Sessions
//
// A Session can also run over any channel already bound to the "sftp"
// subsystem:
//
//	ch, err := minisftp.OpenSubsystem(sshClient, "sftp")
//	if err != nil {
//		log.Fatal(err)
//	}
//	s, err := minisftp.NewSession(ch)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer s.Close()
//
//	f, err := s.Create("/tmp/hello.txt")
//	if err != nil {
//		log.Fatal(err)
//	}
//	_, err = f.Write([]byte("hello\n"))
//	f.Close()
//
// Server status replies come back as *StatusError and leave the session
// usable. Malformed or unexpected replies and channel failures come back
// as *ProtocolError or *TransportError; IsFatal reports them, and the
// session refuses further requests.
//
// # Connection Pooling
//
// For multiple operations to the same host, lease clients from a pool:
//
//	pool := minisftp.NewConnectionPool(5 * time.Minute)
//	defer pool.Close()
//
//	client, err := pool.GetOrCreate(config)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer pool.Release(client)
//
// # High-Level API
//
// The Syncer uploads a file only when its content differs from the remote
// copy:
//
//	syncer, err := minisftp.NewSyncer(config)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer syncer.Close()
//
//	result, err := syncer.SyncFile(ctx, "/local/file.txt", "/remote/file.txt", nil)
package minisftp
