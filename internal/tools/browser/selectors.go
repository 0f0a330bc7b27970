package browser

// Sleeper UI selectors. Each element lists fallbacks tried in order.
var (
	selEmailInput = []string{
		"input[type='email']",
		"input[name='email']",
		"#email",
	}
	selPasswordInput = []string{
		"input[type='password']",
		"input[name='password']",
		"#password",
	}
	selLoginButton = []string{
		"button:has-text('Log In')",
		"button:has-text('Sign In')",
		"button[type='submit']",
	}
	selGoogleSSO = []string{
		"button:has-text('Continue with Google')",
		"button:has-text('Google')",
	}
	selLineupContainer = []string{
		"[data-testid='lineup']",
		".lineup-container",
		"#lineup",
	}
)

const (
	sleeperHome       = "https://sleeper.com/"
	sleeperLineupPath = "https://sleeper.com/leagues/%s/%d"
)
