package mcpserver

// LayoutContract describes the output tree produced by a decompilation run
// so LLM consumers can navigate it without listing every file.
const LayoutContract = `# wedecode Output Layout

Every run writes one output directory. Paths below are relative to it and
always use forward slashes.

## Files

- Every file declared by the package index is written at its normalized
  path (leading "/" removed, "." and ".." segments resolved).
- A nested package found inside another package is unpacked into a
  directory named after the nested file without its extension.
- ` + "`" + `app-config.json` + "`" + ` is kept. Unless the run was unpack-only, it is
  restored into ` + "`" + `app.json` + "`" + ` plus one ` + "`" + `<page>.json` + "`" + ` per page.

## Modules

- A script bundle such as ` + "`" + `app-service.js` + "`" + ` is replaced by a directory of the
  same name without extension (` + "`" + `app-service/` + "`" + `). Each registered module is
  written there as its own file, named after its module id.
- Module ids lose query strings, fragments and content hashes, and gain a
  ` + "`" + `.js` + "`" + ` extension when they have none. Two ids that normalize to the same
  path become ` + "`" + `name.js` + "`" + ` and ` + "`" + `name_1.js` + "`" + `.
- Module files contain the factory body verbatim, without the registration
  call around it.
- Inline registration scripts of HTML pages such as ` + "`" + `page-frame.html` + "`" + ` are
  split the same way into ` + "`" + `page-frame/` + "`" + `; the page itself is kept.

## Tools

- ` + "`" + `list_modules` + "`" + ` lists module paths of a run (latest run by default).
- ` + "`" + `read_module` + "`" + ` returns a module body with its dependencies and dependents.
- ` + "`" + `read_file` + "`" + ` returns any text file of the output tree.
- ` + "`" + `search_modules` + "`" + ` finds modules by body text or module id.
- ` + "`" + `get_dependents` + "`" + ` lists modules that require a given module path.
`
