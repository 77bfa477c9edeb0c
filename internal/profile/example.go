package profile

// Example is the profile written by "ecuflash setup init". It is valid as is
// once the command templates point at real tools.
const Example = `# ecuflash provisioning profile
layout:
  firmware:
    roots:
      - /builds/{{ .Platform }}/{{ .SoftwareFolder }}/EXTERNAL/{{ .ChannelType }}
    patterns: ["_CRC.hex"]
  symbols:
    roots:
      - /builds/{{ .Platform }}/{{ .SoftwareFolder }}/EXTERNAL/{{ .ChannelType }}
    patterns: [".elf"]

mapping:
  - path: /builds/{{ .Platform }}/{{ .SoftwareFolder }}/EXTERNAL/{{ .ChannelType }}/DS_CONTAINER/ZipContainer.xlsx
    key_column: Variant Name
    value_column: ZIP Container Name

probe:
  driver: cmdline
  target:
    emulator: iC5700
    transport:
      usb_serial: "000000"
    soc: TC397
    application: App
    memory_space: Core0
  workspaces:
    - /bench/workspaces/tc397_12ch.xjrf
    - /bench/workspaces/tc397_6ch.xjrf
  commands:
    connect: /opt/probe/bin/probe-ctl open {{ .Workspace }}
    register_program: /opt/probe/bin/probe-ctl program {{ .ProgramPath }} --format {{ .ProgramFormat }}
    download: /opt/probe/bin/probe-ctl download --soc {{ .SoC }} --via {{ .Transport }}
    reset: /opt/probe/bin/probe-ctl reset
    erase: /opt/probe/bin/probe-ctl erase
    persist: /opt/probe/bin/probe-ctl save
    close: /opt/probe/bin/probe-ctl close
  download_timeout: 5m
  target_command_timeout: 1m
  persist_timeout: 30s

telemetry:
  config: /bench/telemetry.cfg
  commands:
    capture: candump -L can0
    output_dir: /var/lib/ecuflash/captures
  start_timeout: 10s
  stop_timeout: 10s

defaults:
  channel_type: 12CH
`
