package cli

// GlobalOptions are shared flags that apply across commands.
type GlobalOptions struct {
	ConfigPath string
	Format     string
	Quiet      bool
	Verbose    bool
}

var globalOpts = GlobalOptions{
	Format: "text",
}
