package project

const pythonMain = `# Welcome to your Python project!
print("Hello, World!")
`

const javascriptIndex = `<!DOCTYPE html>
<html>
<head>
  <title>My Project</title>
  <link rel="stylesheet" href="style.css">
</head>
<body>
  <h1>Hello, World!</h1>
  <script src="script.js"></script>
</body>
</html>
`

const javascriptScript = `console.log("Hello, World!");
`

const javascriptStyle = `body {
  font-family: Arial, sans-serif;
  margin: 20px;
}
`

const nodePackage = `{
  "name": "my-project",
  "version": "1.0.0",
  "scripts": {
    "start": "node index.js"
  }
}
`

const nodeIndex = `const http = require('http');

const port = process.env.PORT || 3000;

http.createServer((req, res) => {
  res.writeHead(200, { 'Content-Type': 'text/html' });
  res.end('<h1>Hello, World!</h1>');
}).listen(port, () => {
  console.log('Server listening on port ' + port);
});
`

// InitialFiles returns the starter file set for a new project of the given
// runtime. Unknown runtimes start empty.
func InitialFiles(r Runtime) FileSet {
	switch r {
	case RuntimePython:
		return FileSet{"main.py": pythonMain}
	case RuntimeJavaScript:
		return FileSet{
			"index.html": javascriptIndex,
			"script.js":  javascriptScript,
			"style.css":  javascriptStyle,
		}
	case RuntimeNode:
		return FileSet{
			"package.json": nodePackage,
			"index.js":     nodeIndex,
		}
	default:
		return FileSet{}
	}
}
