// Command paperfs serves a OneDrive folder over WebDAV.
package main

func main() {
	if err := newRootCmd().Execute(); err != nil {
		exitOnError(err)
	}
}
