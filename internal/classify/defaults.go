package classify

// DefaultDatabase returns the built-in pattern set used when no patterns
// directory is configured or as the base a directory extends. It covers
// the common desktop and server workloads the policy rules key on.
func DefaultDatabase() *Database {
	db := &Database{}
	for _, pf := range defaultPatterns {
		db.add(pf)
	}
	return db
}

// WithDefaults prepends the built-in patterns to a loaded database so
// site-local files refine rather than replace them.
func WithDefaults(db *Database) *Database {
	merged := DefaultDatabase()
	merged.patterns = append(merged.patterns, db.patterns...)
	return merged
}

var defaultPatterns = []PatternFile{
	{
		Category: "browser",
		Apps: []AppPattern{
			{
				Name:            "firefox",
				Label:           "Mozilla Firefox",
				ExePatterns:     []string{"firefox", "firefox-bin", "firefox-esr"},
				DesktopPatterns: []string{"firefox*"},
				CgroupPatterns:  []string{"*firefox*"},
				Tags:            []string{"browser", "gui_interactive"},
			},
			{
				Name:            "chromium",
				Label:           "Chromium / Google Chrome",
				ExePatterns:     []string{"chrome", "chromium", "chromium-browser", "google-chrome*"},
				DesktopPatterns: []string{"*chrome*", "*chromium*"},
				Tags:            []string{"browser", "gui_interactive"},
			},
		},
	},
	{
		Category: "ide",
		Apps: []AppPattern{
			{
				Name:        "vscode",
				Label:       "Visual Studio Code",
				ExePatterns: []string{"code", "code-oss", "codium"},
				Tags:        []string{"ide", "gui_interactive"},
			},
			{
				Name:        "jetbrains",
				Label:       "JetBrains IDEs",
				ExePatterns: []string{"idea*", "goland*", "pycharm*", "clion*", "webstorm*"},
				Tags:        []string{"ide", "gui_interactive"},
			},
		},
	},
	{
		Category: "terminal",
		Apps: []AppPattern{
			{
				Name:        "terminal-emulators",
				Label:       "Terminal emulators",
				ExePatterns: []string{"gnome-terminal-server", "konsole", "alacritty", "kitty", "foot", "xterm", "wezterm*"},
				Tags:        []string{"terminal", "gui_interactive"},
			},
		},
	},
	{
		Category: "media",
		Apps: []AppPattern{
			{
				Name:        "audio-stack",
				Label:       "Audio servers",
				ExePatterns: []string{"pipewire", "pipewire-pulse", "pulseaudio", "wireplumber", "jackd*"},
				Tags:        []string{"audio"},
			},
			{
				Name:        "media-players",
				Label:       "Media players",
				ExePatterns: []string{"mpv", "vlc", "spotify"},
				Tags:        []string{"audio", "gui_interactive", "media"},
			},
		},
	},
	{
		Category: "game",
		Apps: []AppPattern{
			{
				Name:        "steam",
				Label:       "Steam and launched games",
				ExePatterns: []string{"steam", "gamescope", "wine*", "proton*"},
				CgroupPatterns: []string{
					"*app-steam*",
				},
				Tags: []string{"game", "gui_interactive"},
			},
		},
	},
	{
		Category: "build",
		Apps: []AppPattern{
			{
				Name:        "compilers",
				Label:       "Compilers and build tools",
				ExePatterns: []string{"make", "ninja", "cargo", "rustc", "gcc", "g++", "clang*", "cc1*", "ld", "go"},
				Tags:        []string{"build", "batch"},
			},
		},
	},
	{
		Category: "maintenance",
		Apps: []AppPattern{
			{
				Name:        "indexers",
				Label:       "File indexers",
				ExePatterns: []string{"updatedb*", "plocate-build", "tracker-miner*", "baloo*"},
				Tags:        []string{"indexer", "maintenance", "batch"},
			},
			{
				Name:        "package-managers",
				Label:       "Package update jobs",
				ExePatterns: []string{"packagekitd", "unattended-upgrade*", "apt*", "dnf*", "pacman"},
				Tags:        []string{"updater", "maintenance", "batch"},
			},
			{
				Name:        "backup",
				Label:       "Backup jobs",
				ExePatterns: []string{"borg", "restic", "rsync", "duplicity"},
				Tags:        []string{"backup", "maintenance", "batch"},
			},
		},
	},
}
